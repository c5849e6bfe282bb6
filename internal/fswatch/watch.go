// Package fswatch watches one directory and turns bursts of file events into
// a single debounced callback.
//
// The fsnotify watcher is recreated with jittered backoff when it breaks
// (closed channels, init failures). After a restart or a watcher error the
// callback fires once anyway, since events may have been lost.
package fswatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	logx "wadispatch/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce    = 250 * time.Millisecond
	defaultBackoffBase = 250 * time.Millisecond
	defaultBackoffMax  = 5 * time.Second

	allOps = fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

type Options struct {
	// Match filters event paths. Nil matches everything.
	Match func(name string) bool
	// Ops selects the event kinds that count. Zero means all of them.
	Ops fsnotify.Op
	// Debounce is the quiet period before onChange runs. Default 250ms.
	Debounce    time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Log         logx.Logger
}

func (o *Options) defaults() {
	if o.Ops == 0 {
		o.Ops = allOps
	}
	if o.Debounce <= 0 {
		o.Debounce = defaultDebounce
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(defaultBackoffMax, o.BackoffBase)
	}
}

// Dir blocks until ctx is done, calling onChange after matching events in
// dir settle. onChange runs on a timer goroutine, never concurrently with
// itself.
func Dir(ctx context.Context, dir string, onChange func(), opts Options) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("fswatch: empty dir")
	}
	opts.defaults()

	d := newDebouncer(opts.Debounce, onChange)
	defer d.stop()
	bo := backoff{base: opts.BackoffBase, max: opts.BackoffMax}
	log := opts.Log.With(logx.String("dir", dir))

	for started := false; ; started = true {
		if ctx.Err() != nil {
			return nil
		}
		w, err := open(dir)
		if err != nil {
			wait := bo.next()
			log.Warn("watch init failed; retrying", logx.Err(err), logx.Duration("backoff", wait))
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		bo.reset()
		log.Debug("watcher started")
		if started {
			d.trigger()
		}

		serve(ctx, w, opts, d, log)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.next()
		log.Warn("watcher stopped; restarting", logx.Duration("backoff", wait))
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func open(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// serve returns when ctx is done or the watcher breaks.
func serve(ctx context.Context, w *fsnotify.Watcher, opts Options, d *debouncer, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&opts.Ops == 0 || (opts.Match != nil && !opts.Match(ev.Name)) {
				continue
			}
			log.Trace("change detected", logx.String("file", ev.Name), logx.String("op", ev.Op.String()))
			d.trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			log.Warn("watch error; resyncing", logx.Err(err))
			d.trigger()
			// Some backends report closure as an error instead of closing the channel.
			if strings.Contains(strings.ToLower(err.Error()), "closed") {
				return
			}
		}
	}
}

type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
	run     sync.Mutex
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.run.Lock()
		defer d.run.Unlock()
		d.fn()
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// backoff doubles up to max; each wait carries up to 50% extra jitter.
type backoff struct {
	base, max, cur time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
	}
	wait := b.cur + rand.N(b.cur/2+1)
	b.cur = min(b.cur*2, b.max)
	return wait
}

func (b *backoff) reset() { b.cur = 0 }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
