package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"wadispatch/internal/dispatch"
	"wadispatch/internal/fswatch"
	logx "wadispatch/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

// InboxOptions configures Serve.
type InboxOptions struct {
	Dir string
	// KeepJobs leaves handoff files in place after a run (they are renamed
	// with a ".done" suffix so they are not picked up again).
	KeepJobs bool
	// RetryInterval re-scans the inbox while a job waits on another active
	// run. Default 30s.
	RetryInterval time.Duration
	// Debounce delays a scan after file events so writers can finish. Default 500ms.
	Debounce time.Duration
}

const (
	rejectedSuffix = ".rejected"
	doneSuffix     = ".done"
)

// Serve starts the app and runs every handoff file dropped into opts.Dir,
// one at a time, until ctx is canceled or a fatal error occurs.
func (a *App) Serve(ctx context.Context, opts InboxOptions) error {
	if strings.TrimSpace(opts.Dir) == "" {
		return errors.New("inbox dir is required")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	ib := &inbox{app: a, opts: opts, log: a.log.With(logx.String("comp", "inbox"), logx.String("dir", opts.Dir)), trigger: make(chan struct{}, 1)}
	a.sup.Go("inbox.watch", ib.watch)
	a.sup.Go0("inbox.worker", ib.work)

	<-a.Done()
	if ctx.Err() != nil {
		return nil
	}
	return a.Err()
}

type inbox struct {
	app     *App
	opts    InboxOptions
	log     logx.Logger
	trigger chan struct{}
}

func (ib *inbox) kick() {
	select {
	case ib.trigger <- struct{}{}:
	default:
	}
}

// watch turns file events for handoff files into debounced scan triggers.
// Watcher errors trigger a scan too, since events may have been missed.
func (ib *inbox) watch(ctx context.Context) error {
	ib.log.Info("watching inbox")
	return fswatch.Dir(ctx, ib.opts.Dir, ib.kick, fswatch.Options{
		Match:    isHandoff,
		Ops:      fsnotify.Create | fsnotify.Write | fsnotify.Rename,
		Debounce: ib.opts.Debounce,
		Log:      ib.log,
	})
}

// work scans the inbox on start, on every trigger, and periodically while a
// job is deferred.
func (ib *inbox) work(ctx context.Context) {
	ib.kick()
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ib.trigger:
		case <-retry:
		}
		retry = nil
		if ib.scan(ctx) {
			retry = time.After(ib.opts.RetryInterval)
		}
	}
}

// scan runs pending handoff files in name order. It reports whether any
// file was deferred.
func (ib *inbox) scan(ctx context.Context) (deferred bool) {
	entries, err := os.ReadDir(ib.opts.Dir)
	if err != nil {
		ib.log.Error("read inbox failed", logx.Err(err))
		return true
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isHandoff(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return false
		}
		if !ib.runFile(ctx, filepath.Join(ib.opts.Dir, name)) {
			deferred = true
		}
	}
	return deferred
}

// runFile returns false when the job must be retried later.
func (ib *inbox) runFile(ctx context.Context, path string) bool {
	log := ib.log.With(logx.String("file", filepath.Base(path)))

	job, err := dispatch.LoadJob(path)
	if err == nil {
		err = job.Validate()
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true
		}
		log.Error("handoff rejected", logx.Err(err))
		ib.retire(log, path, rejectedSuffix)
		return true
	}

	log.Info("job picked up", logx.String("job_id", job.ID), logx.Int("recipients", len(job.Recipients)))
	_, err = ib.app.RunJob(ctx, job)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Info("shutdown before job started; handoff kept", logx.String("job_id", job.ID))
		return false
	case errors.Is(err, dispatch.ErrAttachmentMissing):
		// Retrying cannot help; keep the file for the operator.
		log.Error("job rejected", logx.String("job_id", job.ID), logx.Err(err))
		ib.retire(log, path, rejectedSuffix)
		return true
	case errors.Is(err, dispatch.ErrRunActive), errors.Is(err, dispatch.ErrGatewayUnhealthy):
		log.Info("job deferred", logx.String("job_id", job.ID), logx.Err(err))
		return false
	case err != nil:
		// Not started (config, credentials, store): nothing was sent.
		log.Error("job not started; deferred", logx.String("job_id", job.ID), logx.Err(err))
		return false
	case ctx.Err() != nil:
		// Interrupted by shutdown; the record shows what was done.
		log.Warn("job interrupted by shutdown", logx.String("job_id", job.ID))
	}
	if ib.opts.KeepJobs {
		ib.retire(log, path, doneSuffix)
	} else if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		log.Warn("remove handoff failed", logx.Err(rerr))
		ib.retire(log, path, doneSuffix)
	}
	return true
}

func (ib *inbox) retire(log logx.Logger, path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error("retire handoff failed", logx.String("suffix", suffix), logx.Err(err))
	}
}

func isHandoff(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}
