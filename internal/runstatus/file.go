package runstatus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	logx "wadispatch/pkg/logx"
)

const defaultLockTimeout = 5 * time.Second

// fileStore keeps RunStatus as one JSON document.
//
// Files:
//   - <path>       the status document
//   - <path>.lock  cross-process mutation lock (O_EXCL)
//
// Writes go to a temp file in the same directory, fsync, then rename, so a
// concurrent reader (another CLI process, the dashboard) sees either the old
// or the new document, never a torn one.
type fileStore struct {
	log logx.Logger

	mu          sync.Mutex
	path        string
	lockPath    string
	lockTimeout time.Duration
	closed      bool

	now func() time.Time
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("status.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	lt := cfg.LockTimeout
	if lt <= 0 {
		lt = defaultLockTimeout
	}
	return &fileStore{
		log:         log,
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: lt,
		now:         time.Now,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) IsRunning(ctx context.Context) (bool, error) {
	rs, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return rs.IsRunning, nil
}

// Status reads the document without taking the lock; rename keeps reads whole.
func (s *fileStore) Status(ctx context.Context) (RunStatus, error) {
	if err := ctx.Err(); err != nil {
		return RunStatus{}, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return RunStatus{}, ErrClosed
	}
	return s.read(), nil
}

func (s *fileStore) StartExecution(ctx context.Context, total int, executionID string) (bool, error) {
	var started bool
	err := s.mutate(ctx, func(rs *RunStatus, now time.Time) bool {
		started = rs.start(total, executionID, now)
		return started
	})
	return started, err
}

func (s *fileStore) UpdateCurrentStep(ctx context.Context, step, recipientName string) error {
	return s.mutate(ctx, func(rs *RunStatus, _ time.Time) bool {
		return rs.setStep(step, recipientName)
	})
}

func (s *fileStore) UpdateRecipientStatus(ctx context.Context, key, name, phone string, st Status, detail string) error {
	return s.mutate(ctx, func(rs *RunStatus, now time.Time) bool {
		return rs.upsertRecipient(key, name, phone, st, detail, now)
	})
}

func (s *fileStore) EndExecution(ctx context.Context) error {
	return s.mutate(ctx, func(rs *RunStatus, now time.Time) bool {
		return rs.end(now)
	})
}

func (s *fileStore) ResetStatus(ctx context.Context) error {
	return s.mutate(ctx, func(rs *RunStatus, _ time.Time) bool {
		*rs = idle()
		return true
	})
}

func (s *fileStore) mutate(ctx context.Context, fn func(rs *RunStatus, now time.Time) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	release, err := acquireLock(ctx, s.lockPath, s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	rs := s.read()
	if !fn(&rs, s.now()) {
		return nil
	}
	return s.writeLocked(rs)
}

// read returns idle defaults for a missing or unparseable document.
func (s *fileStore) read() RunStatus {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("status read failed; using idle defaults", logx.String("path", s.path), logx.Err(err))
		}
		return idle()
	}
	var rs RunStatus
	if err := json.Unmarshal(b, &rs); err != nil {
		s.log.Warn("status document malformed; using idle defaults", logx.String("path", s.path), logx.Err(err))
		return idle()
	}
	if rs.Recipients == nil {
		rs.Recipients = map[string]RecipientStatus{}
	}
	return rs
}

func (s *fileStore) writeLocked(rs RunStatus) error {
	b, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}
