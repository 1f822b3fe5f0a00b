// Package reload fans a live-reload signal out to every connected browser.
//
// The Broadcaster hub owns the subscriber set. Registrations,
// unregistrations and notifications travel through one ordered channel, so
// a subscriber that registers after Notify returned never sees that
// notification. Delivery never blocks: a subscriber whose buffer is full
// is dropped and its channel closed.
package reload

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/docsmith/internal/logging"
)

// EventReload is the event name browsers listen for.
const EventReload = "reload"

// ErrClosed is returned when subscribing to a closed Broadcaster.
var ErrClosed = stderrors.New("broadcaster closed")

// Message is one signal delivered to subscribers.
type Message struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Subscription is one live-reload stream.
type Subscription struct {
	ch chan Message
}

// Messages returns the delivery channel. It is closed when the subscriber
// is dropped, unsubscribed, or the Broadcaster closes.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opBroadcast
)

type op struct {
	kind opKind
	sub  *Subscription
	msg  Message
	ack  chan struct{}
}

// Broadcaster multicasts reload messages to its subscribers.
type Broadcaster struct {
	ops    chan op
	buffer int
	logger logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	count     atomic.Int64
}

// NewBroadcaster starts a hub whose subscribers buffer up to buffer
// messages each.
func NewBroadcaster(buffer int, logger logging.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		ops:    make(chan op, 64),
		buffer: buffer,
		logger: logger.WithComponent("reload"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	defer close(b.done)

	subscribers := make(map[*Subscription]struct{})
	drop := func(s *Subscription) {
		delete(subscribers, s)
		close(s.ch)
		b.count.Store(int64(len(subscribers)))
	}

	for {
		select {
		case <-b.ctx.Done():
			for s := range subscribers {
				drop(s)
			}
			return
		case o := <-b.ops:
			switch o.kind {
			case opRegister:
				subscribers[o.sub] = struct{}{}
				b.count.Store(int64(len(subscribers)))
				close(o.ack)
			case opUnregister:
				if _, ok := subscribers[o.sub]; ok {
					drop(o.sub)
				}
			case opBroadcast:
				var lagging int
				for s := range subscribers {
					select {
					case s.ch <- o.msg:
					default:
						drop(s)
						lagging++
					}
				}
				if lagging > 0 {
					b.logger.Debug(b.ctx, "Dropped lagging subscribers", "count", lagging)
				}
			}
		}
	}
}

func (b *Broadcaster) send(o op) bool {
	select {
	case b.ops <- o:
		return true
	case <-b.done:
		return false
	}
}

// Subscribe registers a new subscriber. It returns once the hub has
// registered it, so it receives every notification issued afterwards.
func (b *Broadcaster) Subscribe() (*Subscription, error) {
	s := &Subscription{ch: make(chan Message, b.buffer)}
	ack := make(chan struct{})
	if !b.send(op{kind: opRegister, sub: s, ack: ack}) {
		return nil, ErrClosed
	}

	select {
	case <-ack:
		return s, nil
	case <-b.done:
		return nil, ErrClosed
	}
}

// Unsubscribe removes s and closes its channel.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.send(op{kind: opUnregister, sub: s})
}

// Notify sends one reload message to every current subscriber.
func (b *Broadcaster) Notify(payload string) {
	b.send(op{kind: opBroadcast, msg: Message{Type: EventReload, Data: payload}})
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	return int(b.count.Load())
}

// Close drops every subscriber and stops the hub.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		<-b.done
	})
}
