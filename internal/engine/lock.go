package engine

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/gridcache/index"
)

const (
	minLockBackoff = 50 * time.Microsecond
	maxLockBackoff = 5 * time.Millisecond
)

// lock takes the read or write lock of h.
//
// Without a lock timeout and with a context that cannot be cancelled it
// blocks. Otherwise it polls until the lock is free, the timeout elapses
// (*LockError wrapping ErrLockTimeout) or ctx is done (ctx.Err()).
func (e *Engine) lock(ctx context.Context, h index.NodeHandle, write bool) error {
	try, block := h.TryRLock, h.RLock
	if write {
		try, block = h.TryLock, h.Lock
	}

	if e.lockTimeout <= 0 && ctx.Done() == nil {
		block()
		return nil
	}
	if try() {
		return nil
	}

	var deadline <-chan time.Time
	if e.lockTimeout > 0 {
		t := time.NewTimer(e.lockTimeout)
		defer t.Stop()
		deadline = t.C
	}

	wait := minLockBackoff
	poll := time.NewTimer(wait)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return &LockError{Node: h.ID(), Write: write, Err: ErrLockTimeout}
		case <-poll.C:
		}
		if try() {
			return nil
		}
		wait = min(wait*2, maxLockBackoff)
		poll.Reset(wait)
	}
}

// lockFailed records a lock that could not be taken in time.
func (e *Engine) lockFailed(h index.NodeHandle, write bool, err error) {
	e.stats.lockFailures.Add(1)
	e.metrics.OnLockFailure(h.ID(), write)
	e.logger.Warn("Lock acquisition failed, serving node from backend",
		"node", h.ID(), "write", write, "error", err)
}

func isLockError(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}
