// Package proxy provides lazy, pool-backed access to resource
// capabilities.
//
// A Proxy wraps one pool. Each execution unit (goroutine running one
// logical operation sequence) takes its own Session from the proxy and
// calls capability methods on it as if it held a dedicated resource.
// The session acquires a resource from the pool on first use, pins it
// across calls while the resource reports itself non-reusable (an open
// transaction, a held advisory lock), and releases it back to the pool
// as soon as it is clean again. Call sites never see acquire/release
// bookkeeping.
//
//	sess := prx.Session()
//	defer sess.End()
//
//	rows, err := sess.Query("SELECT ...", id)
//
// The capability surface is a fixed, statically enumerated interface;
// there is no dynamic method forwarding.
package proxy

import (
	"time"

	"github.com/smartpool-go/smartpool/lib/pool"
)

// Row is one result row, keyed by column name.
type Row map[string]any

// Result reports the outcome of a mutating statement.
type Result struct {
	// LastInsertID is the identifier generated for an insert, when the
	// backend produces one.
	LastInsertID int64
	// RowsAffected is the number of rows changed.
	RowsAffected int64
}

// Client is the capability surface a poolable resource exposes to
// callers. It extends the pool's lifecycle contract with the named
// operations sessions may invoke. Implementations are supplied per
// resource kind (see lib/mysqlconn, lib/redisconn).
type Client interface {
	pool.Resource

	// Query runs a read statement and materializes its rows.
	Query(stmt string, args ...any) ([]Row, error)
	// Exec runs a mutating statement.
	Exec(stmt string, args ...any) (Result, error)
	// Begin opens a transaction. Opening a second transaction on the
	// same resource is a fatal misuse error.
	Begin() error
	// Commit commits the open transaction.
	Commit() error
	// Rollback aborts the open transaction.
	Rollback() error
	// AcquireLock attempts to take a named advisory lock, waiting up to
	// timeout. It reports whether the lock was obtained.
	AcquireLock(key string, timeout time.Duration) (bool, error)
	// ReleaseLock releases a named advisory lock. Releasing a key this
	// resource does not hold is a safe no-op returning false.
	ReleaseLock(key string) (bool, error)
}

// Proxy is the shared, per-pool entry point. It holds no per-caller
// state; all binding state lives in Sessions.
type Proxy struct {
	name string
	pool *pool.Pool[Client]
}

// New creates a proxy over a pool.
func New(p *pool.Pool[Client]) *Proxy {
	return &Proxy{
		name: p.Name(),
		pool: p,
	}
}

// Name returns the underlying pool's name.
func (p *Proxy) Name() string {
	return p.name
}

// Pool returns the underlying pool.
func (p *Proxy) Pool() *pool.Pool[Client] {
	return p.pool
}

// Session mints a binding for one execution unit. The session is owned
// exclusively by the goroutine that uses it and must not be shared.
func (p *Proxy) Session() *Session {
	return &Session{proxy: p}
}
