// Package conc holds the reader/writer concurrency primitives: the
// exclusive write file lock, the cross-process reader registry, the
// hotness tracker, and the transaction-id idempotency registry (spec §4.10,
// §5).
package conc

import (
	"github.com/gofrs/flock"

	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// FileLock is an advisory, process-exclusive lock backed by a sentinel
// file (P.lock).
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock creates (but does not acquire) a lock on path.
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// TryLock attempts to acquire the exclusive lock without blocking. It
// returns a Conflict error if another process already holds it, matching
// spec §4.10 open-step 1: "fail fast if held".
func (l *FileLock) TryLock() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return nerr.Wrap(err, "filelock: acquiring exclusive lock")
	}
	if !ok {
		return nerr.Conflict("write lock already held by another process")
	}
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// Locked reports whether this handle currently holds the lock.
func (l *FileLock) Locked() bool {
	return l.fl != nil && l.fl.Locked()
}
