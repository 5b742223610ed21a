package scope

import (
	"time"
)

// LockConn is the advisory-lock slice of the capability surface.
type LockConn interface {
	AcquireLock(key string, timeout time.Duration) (bool, error)
	ReleaseLock(key string) (bool, error)
}

// WithLock attempts to take the named advisory lock, waiting up to
// timeout, and runs fn with the acquisition result. The lock is
// released on exit iff it was acquired, including when fn errors or
// panics. fn must check acquired before relying on the lock.
//
//	err := scope.WithLock(sess, "batch:rebuild", 5*time.Second, func(acquired bool) error {
//	    if !acquired {
//	        return nil // someone else holds it
//	    }
//	    // critical section
//	    return nil
//	})
func WithLock(c LockConn, key string, timeout time.Duration, fn func(acquired bool) error) error {
	acquired, err := c.AcquireLock(key, timeout)
	if err != nil {
		return err
	}

	defer func() {
		if !acquired {
			return
		}
		if _, rlErr := c.ReleaseLock(key); rlErr != nil {
			log.WithField("key", key).WithError(rlErr).Warn("releasing advisory lock failed")
		}
	}()

	return fn(acquired)
}
