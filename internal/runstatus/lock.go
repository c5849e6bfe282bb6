package runstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	lockPollInterval = 25 * time.Millisecond
	// A holder that died without releasing leaves the lock behind; once it is
	// older than this (or its pid is gone) the lock is taken over.
	staleLockAge = 2 * time.Minute
)

// beforeStaleRename runs between the staleness check and the takeover.
// Tests replace it to interleave a competing lock.
var beforeStaleRename = func() {}

type lockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// acquireLock creates path exclusively (O_EXCL) and returns a release func.
// It waits up to timeout for a live holder.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	data, err := json.Marshal(lockInfo{PID: os.Getpid(), StartedAt: time.Now()})
	if err != nil {
		return nil, err
	}

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				if werr != nil {
					return nil, werr
				}
				return nil, cerr
			}
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		if breakStaleLock(path) {
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (%s)", ErrLockTimeout, path)
		}
		t := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// breakStaleLock removes path if it holds a stale lock and reports whether
// the caller should retry at once. The lock is first renamed aside, so a
// fresh lock created after the staleness check is never deleted; if the
// renamed file turns out not to be the one judged stale it is linked back.
func breakStaleLock(path string) bool {
	stale, ok := readStaleLock(path)
	if !ok {
		return false
	}
	beforeStaleRename()
	aside := fmt.Sprintf("%s.stale.%d.%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		// Gone already: retry the create.
		return os.IsNotExist(err)
	}
	got, err := os.ReadFile(aside)
	if err == nil && !bytes.Equal(got, stale) {
		// A live lock replaced the stale one in between: put it back.
		// Link fails if path exists, so nothing is overwritten.
		_ = os.Link(aside, path)
	}
	_ = os.Remove(aside)
	return true
}

// readStaleLock returns the lock contents when they belong to a dead or
// expired holder.
func readStaleLock(path string) ([]byte, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var li lockInfo
	if json.Unmarshal(b, &li) != nil || li.PID <= 0 {
		// Half-written lock; fall back to its age.
		st, serr := os.Stat(path)
		return b, serr == nil && time.Since(st.ModTime()) > staleLockAge
	}
	if li.PID != os.Getpid() && !processAlive(li.PID) {
		return b, true
	}
	return b, time.Since(li.StartedAt) > staleLockAge
}
