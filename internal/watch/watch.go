// Package watch re-runs a callback whenever a single file changes on disk,
// and optionally on a cron schedule.
//
// The file's parent directory is watched rather than the file itself, so
// editors and tools that replace the file by renaming a temp file over it
// are seen as well as in-place writes. The schedule catches changes that do
// not touch the file, such as a directory it names being removed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/lc/confcheck/internal/log"
)

// ErrRunning is returned when Watch is called on a watcher that is already watching.
var ErrRunning = errors.New("watcher already running")

// Watcher reports changes to one file.
type Watcher struct {
	path     string
	debounce time.Duration
	schedule string
	ready    func()

	mu      sync.Mutex
	running bool
}

// Opt is a function option for configuring the Watcher.
type Opt func(w *Watcher)

// WithSchedule also fires on a standard cron expression or descriptor such
// as "@every 1h". An empty spec disables the schedule.
func WithSchedule(spec string) Opt {
	return func(w *Watcher) {
		w.schedule = spec
	}
}

// WithReady registers fn to be called once the watch is established.
func WithReady(fn func()) Opt {
	return func(w *Watcher) {
		w.ready = fn
	}
}

// New returns a watcher for path that waits for debounce of quiet before
// firing.
func New(path string, debounce time.Duration, opts ...Opt) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Watch blocks until ctx is cancelled, calling onChange after each burst of
// events touching the file. Calls never overlap. An error from onChange is
// logged and watching continues. Watch does not return while a call is in
// progress.
func (w *Watcher) Watch(ctx context.Context, onChange func() error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrRunning
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	d := newDebouncer(w.debounce)
	defer d.stop()

	var callMu sync.Mutex
	fire := func() {
		callMu.Lock()
		defer callMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := onChange(); err != nil {
			log.Errorf("re-validation of %s failed: %v", w.path, err)
		}
	}

	if w.schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(w.schedule, fire); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", w.schedule, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	log.Info("watching",
		"path", w.path,
		"debounce", w.debounce,
		"schedule", w.schedule,
	)
	if w.ready != nil {
		w.ready()
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug("watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !w.relevant(ev) {
				continue
			}
			log.Debugf("%s: %s", ev.Op, ev.Name)
			d.trigger(fire)

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			log.Warnf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// debouncer runs the most recent callback once events stop for interval.
// stop waits for a callback that has already started.
type debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	inflight sync.WaitGroup
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval}
}

func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil && d.timer.Stop() {
		d.inflight.Done()
	}
	d.inflight.Add(1)
	d.timer = time.AfterFunc(d.interval, func() {
		defer d.inflight.Done()
		fn()
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.inflight.Done()
	}
	d.mu.Unlock()
	d.inflight.Wait()
}
