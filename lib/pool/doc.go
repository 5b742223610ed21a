// Package pool provides a bounded pool of reusable stateful resources,
// such as database connections.
//
// The pool supports:
//   - Configurable minimum and maximum pool size
//   - Idle-based eviction, triggered every CleanInterval-th call
//   - Warmest-first grant (smallest idle time) and stalest-first eviction
//   - Explicit checkout tracking through Lease ownership handles
//   - A cooperative mode that drops the mutex for single-threaded schedulers
//   - Metrics for pool utilization
//
// Acquisition never blocks: an exhausted pool fails immediately with
// errors.ErrEmptyPool and the caller decides its own retry policy (see
// lib/resilience).
//
// # Basic Usage
//
//	factory := func() (*myConn, error) {
//	    return newMyConn(addr), nil // construction only, no I/O
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.MaxCount = 10
//
//	p, err := pool.New("main", factory, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	lease, err := p.Get()
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
//	// Use lease.Resource()...
//
// The pool connects resources lazily: the factory only constructs, and
// Connect runs outside the pool's critical section. Ping, Connect and
// Close are likewise never called under the bookkeeping lock.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package:
//   - smartpool_pool_resources_max: Maximum pool size
//   - smartpool_pool_resources_open: Current pool members
//   - smartpool_pool_resources_idle: Current idle members
//   - smartpool_pool_resources_in_use: Members currently checked out
//   - smartpool_pool_grants_total: Successful grants
//   - smartpool_pool_creates_total: Resources created
//   - smartpool_pool_evictions_total: Resources evicted by cleanup
//   - smartpool_pool_exhausted_total: Failed acquisitions on a full pool
package pool
