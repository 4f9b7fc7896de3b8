// Package flock provides advisory file locking with a shared/exclusive,
// bounded-timeout contract.
//
// Locks are advisory: they coordinate cooperating processes that all go
// through this store, they do not stop an unrelated process from writing
// the file. On Linux and the BSDs the lock is a whole-file flock(2) lock,
// which is released automatically when the process exits, so a crashed
// writer never leaves a container permanently locked.
package flock

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Type selects the lock flavour.
type Type int

const (
	// Shared allows any number of concurrent readers.
	Shared Type = iota

	// Exclusive allows exactly one holder and excludes all readers.
	Exclusive
)

func (t Type) String() string {
	if t == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// ErrTimeout is returned when the lock could not be acquired within the
// deadline.
var ErrTimeout = errors.New("flock: timed out waiting for lock")

// retryInterval is the initial backoff between non-blocking attempts. It
// doubles up to maxInterval so a contended open does not spin.
const (
	retryInterval = 10 * time.Millisecond
	maxInterval   = 250 * time.Millisecond
)

// Acquire takes a lock of type t on f, polling with backoff until timeout
// elapses. A zero or negative timeout makes a single non-blocking attempt.
//
// Polling with LOCK_NB rather than blocking in flock(2) keeps the wait
// bounded: a blocking flock has no timeout.
func Acquire(f *os.File, t Type, timeout time.Duration) error {
	how := unix.LOCK_SH
	if t == Exclusive {
		how = unix.LOCK_EX
	}

	deadline := time.Now().Add(timeout)
	interval := retryInterval
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("flock %s %q: %w", t, f.Name(), err)
		}
		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("%w (%s lock on %q after %s)", ErrTimeout, t, f.Name(), timeout)
		}
		time.Sleep(interval)
		if interval < maxInterval {
			interval *= 2
		}
	}
}

// Release drops the lock held on f. Releasing an unlocked file is a no-op
// at the kernel level and returns nil.
func Release(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock %q: %w", f.Name(), err)
	}
	return nil
}
