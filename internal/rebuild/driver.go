// Package rebuild drains the watcher queue and drives the builder, one
// event at a time, signalling a reload after each.
package rebuild

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync/atomic"

	"github.com/conneroisu/docsmith/internal/errors"
	"github.com/conneroisu/docsmith/internal/logging"
	"github.com/conneroisu/docsmith/internal/watcher"
)

// Builder is the part of build.Builder the driver needs.
type Builder interface {
	ReloadTemplates(ctx context.Context) error
	BuildAll(ctx context.Context) error
	BuildPage(ctx context.Context, path string) error
	RemovePage(ctx context.Context, path string) error
	RenamePage(ctx context.Context, oldPath, newPath string) error
}

// Notifier is told after every handled event.
type Notifier interface {
	Notify(payload string)
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithPayload sets the function producing the reload payload.
func WithPayload(payload func() string) Option {
	return func(d *Driver) {
		d.payload = payload
	}
}

// Driver is the single consumer of the event queue.
type Driver struct {
	queue    *watcher.Queue
	builder  Builder
	notifier Notifier
	logger   logging.Logger
	payload  func() string

	handled atomic.Int64
	failed  atomic.Int64
}

// New creates a Driver.
func New(queue *watcher.Queue, builder Builder, notifier Notifier, opts ...Option) *Driver {
	d := &Driver{
		queue:    queue,
		builder:  builder,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	d.logger = d.logger.WithComponent("rebuild")
	if d.payload == nil {
		d.payload = func() string { return strconv.FormatInt(d.handled.Load(), 10) }
	}
	return d
}

// Run processes events in arrival order until ctx is done or the queue is
// closed. Failed rebuilds are logged and do not stop the loop.
func (d *Driver) Run(ctx context.Context) error {
	for {
		e, err := d.queue.Pop(ctx)
		if stderrors.Is(err, watcher.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		d.Handle(ctx, e)
	}
}

// Handle applies one event to the output tree and then notifies, whether
// or not the rebuild succeeded.
func (d *Driver) Handle(ctx context.Context, e watcher.Event) error {
	op := logging.StartOperation(d.logger.With("event", e.String()), "rebuild")

	err := d.apply(ctx, e)
	d.handled.Add(1)
	if err != nil {
		d.failed.Add(1)
		if errors.IsRecoverable(err) {
			op.EndWithError(ctx, err)
		} else {
			d.logger.Error(ctx, err, "Unexpected rebuild failure", "event", e.String())
		}
	} else {
		op.End(ctx)
	}

	d.notifier.Notify(d.payload())
	return err
}

func (d *Driver) apply(ctx context.Context, e watcher.Event) error {
	switch e.Kind {
	case watcher.TemplateTreeChanged:
		if err := d.builder.ReloadTemplates(ctx); err != nil {
			return err
		}
		return d.builder.BuildAll(ctx)
	case watcher.DocumentUpsert:
		return d.builder.BuildPage(ctx, e.Path)
	case watcher.DocumentRemoved:
		return d.builder.RemovePage(ctx, e.Path)
	case watcher.DocumentRenamed:
		return d.builder.RenamePage(ctx, e.OldPath, e.Path)
	default:
		return stderrors.New("unknown event kind " + e.Kind.String())
	}
}

// Stats returns how many events were handled and how many failed.
func (d *Driver) Stats() (handled, failed int64) {
	return d.handled.Load(), d.failed.Load()
}
