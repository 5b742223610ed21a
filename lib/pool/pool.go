package pool

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartpool-go/smartpool/lib/errors"
	"github.com/smartpool-go/smartpool/lib/metrics"
)

// Resource is the contract a poolable object must satisfy.
// Implementations are supplied externally; see lib/mysqlconn and
// lib/redisconn for reference implementations.
type Resource interface {
	// Connect establishes the underlying link. It may be called again
	// after a failed Ping.
	Connect() error
	// Close tears the link down. It must be idempotent and must not
	// propagate failures.
	Close() error
	// Ping probes liveness. It returns false on any failure and never
	// panics.
	Ping() bool
	// Reusable reports whether the resource is in a clean state. It is
	// false while the resource is mid-transaction or holds an advisory
	// lock.
	Reusable() bool
	// IdleTime is the duration since the resource's last activity.
	IdleTime() time.Duration
	// MakeReusable forces the resource back to a clean reusable state,
	// rolling back any open transaction and releasing any held locks.
	// It must leave Reusable() == true.
	MakeReusable() error
}

// Factory constructs a new, not yet connected resource. It must not
// perform I/O; the pool calls Connect outside its critical section.
type Factory[R Resource] func() (R, error)

// Config configures a pool.
type Config struct {
	// MinCount is the number of resources cleanup passes leave behind.
	// Default: 1
	MinCount int
	// MaxCount is the maximum number of resources in the pool.
	// Default: 10
	MaxCount int
	// MaxIdleTime is how long a resource may sit idle before a cleanup
	// pass may evict it.
	// Default: 60 seconds
	MaxIdleTime time.Duration
	// CleanInterval is the number of Get calls between cleanup passes.
	// Set to 0 to disable periodic cleanup.
	// Default: 100
	CleanInterval int
	// Cooperative disables the bookkeeping mutex. Only safe when the
	// caller guarantees single-threaded cooperative execution with no
	// preemption between pool operations.
	Cooperative bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinCount:      1,
		MaxCount:      10,
		MaxIdleTime:   60 * time.Second,
		CleanInterval: 100,
	}
}

// entry tracks one pool member. The inUse flag is the explicit checkout
// marker; it is owned by the pool and only ever mutated under the
// bookkeeping lock.
type entry[R Resource] struct {
	res   R
	inUse bool
}

// Pool is a bounded collection of resources.
type Pool[R Resource] struct {
	name    string
	factory Factory[R]
	config  Config

	mu      sync.Locker
	entries []*entry[R]
	calls   int
	closed  bool

	// Counters
	grantCount     uint64
	createCount    uint64
	evictCount     uint64
	exhaustedCount uint64
}

// nopLocker is the locker used in cooperative mode.
type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// New creates a pool. The pool starts empty; resources are created on
// demand up to MaxCount. A MinCount greater than MaxCount is a
// configuration error.
func New[R Resource](name string, factory Factory[R], cfg Config) (*Pool[R], error) {
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = DefaultConfig().MaxCount
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = DefaultConfig().MaxIdleTime
	}
	if cfg.MinCount < 0 || cfg.CleanInterval < 0 {
		return nil, errors.Wrap("pool "+name, errors.ErrConfiguration)
	}
	if cfg.MinCount > cfg.MaxCount {
		return nil, errors.Wrap("pool "+name+": min exceeds max", errors.ErrConfiguration)
	}

	p := &Pool[R]{
		name:    name,
		factory: factory,
		config:  cfg,
	}
	if cfg.Cooperative {
		p.mu = nopLocker{}
	} else {
		p.mu = &sync.Mutex{}
	}

	log.WithField("pool", name).
		WithField("min", cfg.MinCount).
		WithField("max", cfg.MaxCount).
		Debug("pool created")
	return p, nil
}

// Name returns the pool name.
func (p *Pool[R]) Name() string {
	return p.name
}

// Get grants a resource from the pool wrapped in a Lease. It never
// blocks: when the pool is at capacity with no idle resource it fails
// immediately with errors.ErrEmptyPool.
//
// One critical section covers all bookkeeping (cleanup accounting, idle
// selection, checkout marking, slot reservation); Connect, Ping and
// Close run outside it.
func (p *Pool[R]) Get() (*Lease[R], error) {
	timer := metrics.NewTimer(PoolGrantLatency)
	defer timer.ObserveDuration()

	var victims []R

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.ErrPoolClosed
	}

	p.calls++
	if p.config.CleanInterval > 0 && p.calls >= p.config.CleanInterval {
		p.calls = 0
		victims = p.cleanLocked()
	}

	e := p.warmestIdleLocked()
	fresh := false
	switch {
	case e != nil:
		e.inUse = true
	case len(p.entries) < p.config.MaxCount:
		res, err := p.factory()
		if err != nil {
			p.mu.Unlock()
			p.closeEvicted(victims)
			return nil, errors.Wrap("constructing resource", err)
		}
		e = &entry[R]{res: res, inUse: true}
		p.entries = append(p.entries, e)
		fresh = true
	}
	total := len(p.entries)
	p.mu.Unlock()

	p.closeEvicted(victims)

	if e == nil {
		atomic.AddUint64(&p.exhaustedCount, 1)
		PoolExhaustedTotal.Inc()
		log.WithField("pool", p.name).
			WithField("total", total).
			Warn("pool exhausted")
		return nil, errors.ErrEmptyPool
	}

	lease := &Lease[R]{pool: p, entry: e}

	if fresh {
		if err := e.res.Connect(); err != nil {
			p.remove(e)
			safeClose[R](p.name, e.res)
			return nil, errors.Wrap("connecting new resource", err)
		}
		atomic.AddUint64(&p.createCount, 1)
		atomic.AddUint64(&p.grantCount, 1)
		PoolCreatesTotal.Inc()
		PoolGrantsTotal.Inc()
		log.WithField("pool", p.name).
			WithField("total", total).
			Debug("new resource granted")
		return lease, nil
	}

	// Revive path for a reused resource, outside the critical section.
	if !e.res.Ping() {
		if err := e.res.Connect(); err != nil {
			lease.Release()
			return nil, errors.Wrap("reviving resource", err)
		}
	}
	if !e.res.Reusable() {
		if err := e.res.MakeReusable(); err != nil {
			lease.Release()
			return nil, errors.Wrap("making resource reusable", err)
		}
	}

	atomic.AddUint64(&p.grantCount, 1)
	PoolGrantsTotal.Inc()
	log.WithField("pool", p.name).Debug("idle resource granted")
	return lease, nil
}

// warmestIdleLocked selects the idle resource with the smallest idle
// time, preferring the warmest link. Caller must hold the lock.
func (p *Pool[R]) warmestIdleLocked() *entry[R] {
	var best *entry[R]
	var bestIdle time.Duration
	for _, e := range p.entries {
		if e.inUse {
			continue
		}
		idle := e.res.IdleTime()
		if best == nil || idle < bestIdle {
			best = e
			bestIdle = idle
		}
	}
	return best
}

// cleanLocked runs a cleanup pass: it unlinks up to total-MinCount idle
// resources whose idle time exceeds MaxIdleTime, stalest first, and
// returns them for closing outside the lock. Checked-out resources are
// never eligible. Caller must hold the lock.
func (p *Pool[R]) cleanLocked() []R {
	total := len(p.entries)
	if total <= p.config.MinCount {
		return nil
	}

	idle := make([]*entry[R], 0, total)
	for _, e := range p.entries {
		if !e.inUse {
			idle = append(idle, e)
		}
	}
	if len(idle) == 0 {
		return nil
	}

	sort.Slice(idle, func(i, j int) bool {
		return idle[i].res.IdleTime() > idle[j].res.IdleTime()
	})

	budget := total - p.config.MinCount
	doomed := make(map[*entry[R]]bool, budget)
	victims := make([]R, 0, budget)
	for _, e := range idle {
		if len(victims) >= budget {
			break
		}
		if e.res.IdleTime() > p.config.MaxIdleTime {
			doomed[e] = true
			victims = append(victims, e.res)
		}
	}
	if len(victims) == 0 {
		return nil
	}

	// Unlink before close, so no concurrent Get can select a resource
	// that is being torn down.
	kept := p.entries[:0]
	for _, e := range p.entries {
		if !doomed[e] {
			kept = append(kept, e)
		}
	}
	p.entries = kept

	atomic.AddUint64(&p.evictCount, uint64(len(victims)))
	PoolEvictionsTotal.Add(uint64(len(victims)))
	log.WithField("pool", p.name).
		WithField("evicted", len(victims)).
		WithField("total", len(p.entries)).
		Debug("cleanup pass evicted idle resources")
	return victims
}

// closeEvicted closes evicted resources best-effort.
func (p *Pool[R]) closeEvicted(victims []R) {
	for _, r := range victims {
		safeClose[R](p.name, r)
	}
}

// remove unlinks an entry from the pool bookkeeping.
func (p *Pool[R]) remove(target *entry[R]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e == target {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// release returns a checked-out entry to the idle state.
func (p *Pool[R]) release(target *entry[R]) {
	p.mu.Lock()
	target.inUse = false
	p.mu.Unlock()
	log.WithField("pool", p.name).Debug("resource released")
}

// Close tears the pool down. All resources are closed best-effort;
// further Get calls fail with errors.ErrPoolClosed.
func (p *Pool[R]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for _, e := range entries {
		safeClose[R](p.name, e.res)
	}
	log.WithField("pool", p.name).WithField("closed", len(entries)).Debug("pool closed")
	return nil
}

// safeClose closes a resource, logging instead of propagating failures.
func safeClose[R Resource](pool string, r R) {
	if err := r.Close(); err != nil {
		log.WithField("pool", pool).WithError(err).Warn("closing resource failed")
	}
}

// Lease is the ownership handle for a checked-out resource. Releasing
// the lease is the only path that returns the resource to the idle
// state; Release is idempotent.
type Lease[R Resource] struct {
	pool     *Pool[R]
	entry    *entry[R]
	released bool
}

// Resource returns the leased resource.
func (l *Lease[R]) Resource() R {
	return l.entry.res
}

// Release returns the resource to the pool's idle set.
func (l *Lease[R]) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.pool.release(l.entry)
}

// Stats holds read-only pool metrics. They are useful for
// observability, not correctness.
type Stats struct {
	// Name is the pool name.
	Name string
	// MinCount is the configured lower bound for cleanup passes.
	MinCount int
	// MaxCount is the configured capacity.
	MaxCount int
	// Total is the current number of pool members.
	Total int
	// Idle is the number of members not checked out.
	Idle int
	// InUse is Total - Idle.
	InUse int
	// Grants is the number of successful acquisitions.
	Grants uint64
	// Creates is the number of resources constructed.
	Creates uint64
	// Evictions is the number of resources evicted by cleanup passes.
	Evictions uint64
	// Exhausted is the number of failed acquisitions on a full pool.
	Exhausted uint64
}

// Stats returns current pool statistics.
func (p *Pool[R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := 0
	for _, e := range p.entries {
		if !e.inUse {
			idle++
		}
	}

	return Stats{
		Name:      p.name,
		MinCount:  p.config.MinCount,
		MaxCount:  p.config.MaxCount,
		Total:     len(p.entries),
		Idle:      idle,
		InUse:     len(p.entries) - idle,
		Grants:    atomic.LoadUint64(&p.grantCount),
		Creates:   atomic.LoadUint64(&p.createCount),
		Evictions: atomic.LoadUint64(&p.evictCount),
		Exhausted: atomic.LoadUint64(&p.exhaustedCount),
	}
}
