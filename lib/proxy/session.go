package proxy

import (
	"time"

	"github.com/smartpool-go/smartpool/lib/errors"
)

// Session is the per-execution-unit binding: at most one currently-held
// resource, cached across capability calls. A Session must only ever be
// used by the goroutine that created it.
//
// Each capability call resolves the binding (acquiring from the pool
// when absent), invokes the operation, and then releases the resource
// iff it reports itself reusable. A resource mid-transaction or holding
// an advisory lock stays bound, so a multi-statement sequence sticks to
// one resource without the caller passing it around. After an error the
// same rule applies: a non-reusable resource stays bound so the caller
// can still roll back or release explicitly.
//
// End clears the binding unconditionally and must be called when the
// unit's logical operation sequence finishes, including on error exits:
//
//	sess := prx.Session()
//	defer sess.End()
type Session struct {
	proxy *Proxy
	lease leaseRef
	ended bool
}

// leaseRef is the slice of the pool lease API the session needs; it
// exists so tests can bind fake resources.
type leaseRef interface {
	Resource() Client
	Release()
}

// resolve returns the bound resource, acquiring one when absent.
func (s *Session) resolve() (Client, error) {
	if s.ended {
		return nil, errors.ErrSessionEnded
	}
	if s.lease != nil {
		return s.lease.Resource(), nil
	}
	lease, err := s.proxy.pool.Get()
	if err != nil {
		return nil, err
	}
	s.lease = lease
	return lease.Resource(), nil
}

// settle releases the binding when the resource is clean again.
func (s *Session) settle(c Client) {
	if c.Reusable() {
		s.lease.Release()
		s.lease = nil
	}
}

// Bound reports whether the session currently holds a resource.
func (s *Session) Bound() bool {
	return s.lease != nil
}

// End clears the binding. A still-bound resource is forced back to a
// clean state best-effort before release, so an abandoned transaction
// or lock cannot leak a checked-out resource.
func (s *Session) End() {
	if s.ended {
		return
	}
	s.ended = true
	if s.lease == nil {
		return
	}
	c := s.lease.Resource()
	if !c.Reusable() {
		log.WithField("pool", s.proxy.name).Warn("session ended with unfinished work; forcing rollback")
		if err := c.MakeReusable(); err != nil {
			log.WithField("pool", s.proxy.name).WithError(err).Error("forcing resource reusable failed")
		}
	}
	s.lease.Release()
	s.lease = nil
}

// Query runs a read statement on the bound resource.
func (s *Session) Query(stmt string, args ...any) ([]Row, error) {
	c, err := s.resolve()
	if err != nil {
		return nil, err
	}
	log.WithField("pool", s.proxy.name).
		WithField("op", "query").
		WithField("stmt", stmt).
		WithField("args", args).
		Debug("capability call")
	rows, err := c.Query(stmt, args...)
	s.settle(c)
	return rows, err
}

// Exec runs a mutating statement on the bound resource.
func (s *Session) Exec(stmt string, args ...any) (Result, error) {
	c, err := s.resolve()
	if err != nil {
		return Result{}, err
	}
	log.WithField("pool", s.proxy.name).
		WithField("op", "exec").
		WithField("stmt", stmt).
		WithField("args", args).
		Debug("capability call")
	res, err := c.Exec(stmt, args...)
	s.settle(c)
	return res, err
}

// Begin opens a transaction, pinning the bound resource until the
// transaction finishes.
func (s *Session) Begin() error {
	c, err := s.resolve()
	if err != nil {
		return err
	}
	log.WithField("pool", s.proxy.name).WithField("op", "begin").Debug("capability call")
	err = c.Begin()
	s.settle(c)
	return err
}

// Commit commits the open transaction.
func (s *Session) Commit() error {
	c, err := s.resolve()
	if err != nil {
		return err
	}
	log.WithField("pool", s.proxy.name).WithField("op", "commit").Debug("capability call")
	err = c.Commit()
	s.settle(c)
	return err
}

// Rollback aborts the open transaction.
func (s *Session) Rollback() error {
	c, err := s.resolve()
	if err != nil {
		return err
	}
	log.WithField("pool", s.proxy.name).WithField("op", "rollback").Debug("capability call")
	err = c.Rollback()
	s.settle(c)
	return err
}

// AcquireLock takes a named advisory lock, pinning the bound resource
// while any lock is held.
func (s *Session) AcquireLock(key string, timeout time.Duration) (bool, error) {
	c, err := s.resolve()
	if err != nil {
		return false, err
	}
	log.WithField("pool", s.proxy.name).
		WithField("op", "acquire_lock").
		WithField("key", key).
		Debug("capability call")
	ok, err := c.AcquireLock(key, timeout)
	s.settle(c)
	return ok, err
}

// ReleaseLock releases a named advisory lock.
func (s *Session) ReleaseLock(key string) (bool, error) {
	c, err := s.resolve()
	if err != nil {
		return false, err
	}
	log.WithField("pool", s.proxy.name).
		WithField("op", "release_lock").
		WithField("key", key).
		Debug("capability call")
	ok, err := c.ReleaseLock(key)
	s.settle(c)
	return ok, err
}
