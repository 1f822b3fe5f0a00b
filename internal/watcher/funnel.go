package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/docsmith/internal/errors"
	"github.com/conneroisu/docsmith/internal/logging"
)

// DefaultRenameDelay is how long a rename waits for the matching create.
const DefaultRenameDelay = 100 * time.Millisecond

// Funnel watches the template tree and the source tree with two
// independent fsnotify watchers and pushes semantic events onto one Queue.
type Funnel struct {
	templateRoot string
	sourceRoot   string
	templates    *fsnotify.Watcher
	sources      *fsnotify.Watcher
	queue        *Queue
	filters      []FileFilter
	renameDelay  time.Duration
	logger       logging.Logger
	errs         chan error

	mutex   sync.Mutex
	pending *pendingRename
	// moved maps the old path of a directory rename to its new path until
	// the directory's own watch reports the move.
	moved map[string]string

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// pendingRename is the old half of a rename waiting for its create.
type pendingRename struct {
	path  string
	timer *time.Timer
}

// Option configures a Funnel.
type Option func(*Funnel)

// WithRenameDelay sets how long a rename waits to be paired.
func WithRenameDelay(d time.Duration) Option {
	return func(f *Funnel) {
		f.renameDelay = d
	}
}

// WithFilter adds a filter; every filter must accept a path for it to
// produce an event.
func WithFilter(filter FileFilter) Option {
	return func(f *Funnel) {
		f.filters = append(f.filters, filter)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(f *Funnel) {
		f.logger = logger
	}
}

// WithQueue makes the funnel push onto q instead of a fresh queue.
func WithQueue(q *Queue) Option {
	return func(f *Funnel) {
		f.queue = q
	}
}

// NewFunnel registers recursive watches on both roots. A root that is
// missing or cannot be watched is a WatchSetupError.
func NewFunnel(templateRoot, sourceRoot string, opts ...Option) (*Funnel, error) {
	f := &Funnel{
		templateRoot: filepath.Clean(templateRoot),
		sourceRoot:   filepath.Clean(sourceRoot),
		renameDelay:  DefaultRenameDelay,
		filters:      []FileFilter{NoIgnoredFilter, NoGitFilter},
		errs:         make(chan error, 2),
		moved:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.queue == nil {
		f.queue = NewQueue()
	}
	if f.logger == nil {
		f.logger = logging.Discard()
	}
	f.logger = f.logger.WithComponent("watcher")

	var err error
	if f.templates, err = f.watch(f.templateRoot); err != nil {
		return nil, err
	}
	if f.sources, err = f.watch(f.sourceRoot); err != nil {
		f.templates.Close()
		return nil, err
	}

	return f, nil
}

func (f *Funnel) watch(root string) (*fsnotify.Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewWatchSetupError(root, err)
	}
	if !info.IsDir() {
		return nil, errors.NewWatchSetupError(root, fmt.Errorf("not a directory"))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatchSetupError(root, err)
	}
	if err := f.addRecursive(w, root, nil); err != nil {
		w.Close()
		return nil, errors.NewWatchSetupError(root, err)
	}
	return w, nil
}

// addRecursive watches root and every directory below it. visit, when
// set, is called for every accepted file and directory in walk order.
func (f *Funnel) addRecursive(w *fsnotify.Watcher, root string, visit func(path string)) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path != root && !f.accept(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if visit != nil && path != root {
			visit(path)
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (f *Funnel) accept(path string) bool {
	for _, filter := range f.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// Queue returns the queue events are pushed onto.
func (f *Funnel) Queue() *Queue {
	return f.queue
}

// Errors reports watcher failures after startup. Each is a
// WatchRuntimeError and the process is expected to exit.
func (f *Funnel) Errors() <-chan error {
	return f.errs
}

// Start launches one goroutine per watcher.
func (f *Funnel) Start(ctx context.Context) error {
	f.wg.Add(2)
	go f.loop(ctx, f.templates, f.templateRoot, f.handleTemplate)
	go f.loop(ctx, f.sources, f.sourceRoot, f.handleSource)

	f.logger.Info(ctx, "Watching for changes",
		"templates", f.templateRoot,
		"sources", f.sourceRoot,
	)
	return nil
}

// Stop closes both watchers and waits for their goroutines.
func (f *Funnel) Stop() error {
	var err error
	f.stopOnce.Do(func() {
		f.mutex.Lock()
		if f.pending != nil {
			f.pending.timer.Stop()
			f.pending = nil
		}
		f.mutex.Unlock()

		if cerr := f.templates.Close(); cerr != nil {
			err = cerr
		}
		if cerr := f.sources.Close(); cerr != nil && err == nil {
			err = cerr
		}
		f.wg.Wait()
	})
	return err
}

func (f *Funnel) loop(ctx context.Context, w *fsnotify.Watcher, root string, handle func(context.Context, fsnotify.Event)) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !f.accept(event.Name) {
				continue
			}
			handle(ctx, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.fail(errors.NewWatchRuntimeError(root, err))
		}
	}
}

func (f *Funnel) fail(err error) {
	select {
	case f.errs <- err:
	default:
	}
}

// push enqueues e. Callers hold f.mutex.
func (f *Funnel) push(ctx context.Context, e Event) {
	f.logger.Debug(ctx, "Change detected", "event", e.String())
	f.queue.Push(e)
}

func (f *Funnel) handleTemplate(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := f.addRecursive(f.templates, event.Name, nil); err != nil {
				f.logger.Warn(ctx, err, "Cannot watch new template directory", "path", event.Name)
			}
		}
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.push(ctx, TemplateChanged())
}

func (f *Funnel) handleSource(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	switch {
	case event.Op.Has(fsnotify.Create):
		delete(f.moved, event.Name)
		if f.pending != nil {
			old := f.pending.path
			f.pending.timer.Stop()
			f.pending = nil
			// Editors that save by moving a backup aside rename and
			// recreate the same path.
			if old == event.Name {
				f.push(ctx, Upsert(event.Name))
				return
			}
			f.push(ctx, Renamed(old, event.Name))
			if f.watchIfDir(ctx, event.Name, false) {
				f.moved[old] = event.Name
			}
			return
		}
		f.push(ctx, Upsert(event.Name))
		f.watchIfDir(ctx, event.Name, true)

	case event.Op.Has(fsnotify.Write):
		f.flushRename(ctx)
		f.push(ctx, Upsert(event.Name))

	case event.Op.Has(fsnotify.Remove):
		f.flushRename(ctx)
		f.push(ctx, Removed(event.Name))

	case event.Op.Has(fsnotify.Rename):
		// A moved directory's own watch reports the move a second time,
		// after the parent's rename and create.
		if dest, ok := f.moved[event.Name]; ok {
			delete(f.moved, event.Name)
			f.rewatch(ctx, event.Name, dest)
			return
		}
		if f.pending != nil && f.pending.path == event.Name {
			return
		}
		f.flushRename(ctx)
		f.holdRename(ctx, event.Name)
	}
}

// rewatch moves the watches of a renamed directory to its new location.
// fsnotify drops the directory's own watch on the move, and the watches
// below it keep reporting the old paths until they are replaced.
func (f *Funnel) rewatch(ctx context.Context, oldDir, newDir string) {
	f.unwatch(oldDir)
	if err := f.addRecursive(f.sources, newDir, nil); err != nil {
		f.logger.Warn(ctx, err, "Cannot watch renamed source directory", "path", newDir)
	}
}

// unwatch removes every source watch at or below dir.
func (f *Funnel) unwatch(dir string) {
	prefix := dir + string(filepath.Separator)
	for _, path := range f.sources.WatchList() {
		if path == dir || strings.HasPrefix(path, prefix) {
			// Already gone when the kernel dropped it first.
			_ = f.sources.Remove(path)
		}
	}
}

// watchIfDir adds watches for a directory that appeared under the source
// root and reports whether path is a directory. With upsert set, every
// file already inside it is published too, since files created before the
// watch was added produce no events.
func (f *Funnel) watchIfDir(ctx context.Context, path string, upsert bool) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	var visit func(string)
	if upsert {
		visit = func(p string) { f.push(ctx, Upsert(p)) }
	}
	if err := f.addRecursive(f.sources, path, visit); err != nil {
		f.logger.Warn(ctx, err, "Cannot watch new source directory", "path", path)
	}
	return true
}

// holdRename parks the old half of a rename until its create arrives or
// the rename delay passes. Callers hold f.mutex.
func (f *Funnel) holdRename(ctx context.Context, path string) {
	p := &pendingRename{path: path}
	p.timer = time.AfterFunc(f.renameDelay, func() {
		f.mutex.Lock()
		defer f.mutex.Unlock()
		// Moved out of the tree.
		if f.pending == p {
			f.pending = nil
			f.unwatch(path)
			f.push(ctx, Removed(path))
		}
	})
	f.pending = p
}

// flushRename publishes an unpaired rename as a removal so it keeps its
// place in the stream. Callers hold f.mutex.
func (f *Funnel) flushRename(ctx context.Context) {
	if f.pending == nil {
		return
	}
	f.pending.timer.Stop()
	f.unwatch(f.pending.path)
	f.push(ctx, Removed(f.pending.path))
	f.pending = nil
}
