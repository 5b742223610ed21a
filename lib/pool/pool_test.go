package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartpool-go/smartpool/lib/errors"
)

// fakeRes is a controllable Resource for testing.
type fakeRes struct {
	mu sync.Mutex

	id         int
	connectErr error
	pingOK     bool
	reusable   bool
	idle       time.Duration

	connected     bool
	closed        bool
	connects      int
	closes        int
	makeReusables int

	// holders detects double checkout.
	holders int32
}

func newFakeRes(id int) *fakeRes {
	return &fakeRes{id: id, pingOK: true, reusable: true}
}

func (f *fakeRes) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.closed = false
	return nil
}

func (f *fakeRes) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeRes) Ping() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && f.pingOK
}

func (f *fakeRes) Reusable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reusable
}

func (f *fakeRes) IdleTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *fakeRes) MakeReusable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeReusables++
	f.reusable = true
	return nil
}

func (f *fakeRes) setIdle(d time.Duration) {
	f.mu.Lock()
	f.idle = d
	f.mu.Unlock()
}

func (f *fakeRes) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory numbers the resources it creates and remembers them.
type fakeFactory struct {
	mu      sync.Mutex
	counter int
	made    []*fakeRes
}

func (ff *fakeFactory) factory() (*fakeRes, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.counter++
	r := newFakeRes(ff.counter)
	ff.made = append(ff.made, r)
	return r, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanInterval = 0 // most tests trigger cleanup explicitly
	return cfg
}

func TestPoolGetRelease(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 3

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	lease, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !lease.Resource().connected {
		t.Error("granted resource should be connected")
	}

	stats := p.Stats()
	if stats.Total != 1 || stats.InUse != 1 || stats.Idle != 0 {
		t.Errorf("stats after get = %+v", stats)
	}

	lease.Release()

	stats = p.Stats()
	if stats.Total != 1 || stats.InUse != 0 || stats.Idle != 1 {
		t.Errorf("stats after release = %+v", stats)
	}

	// Same resource should be reselected.
	lease2, err := p.Get()
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if lease2.Resource() != lease.Resource() {
		t.Error("expected the released resource to be granted again")
	}
	if len(ff.made) != 1 {
		t.Errorf("factory ran %d times, want 1", len(ff.made))
	}
}

func TestPoolExhausted(t *testing.T) {
	// Scenario: min=1, max=2. Two grants succeed, the third fails fast.
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MinCount = 1
	cfg.MaxCount = 2

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, err := p.Get()
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	l2, err := p.Get()
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if stats := p.Stats(); stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Get()
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.IsEmptyPool(err) {
			t.Errorf("third Get error = %v, want ErrEmptyPool", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Get blocked on an exhausted pool")
	}

	if stats := p.Stats(); stats.Exhausted != 1 {
		t.Errorf("exhausted counter = %d, want 1", stats.Exhausted)
	}

	l1.Release()
	l2.Release()
}

func TestPoolWarmestFirst(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 2

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, _ := p.Get()
	l2, _ := p.Get()
	warm, stale := l1.Resource(), l2.Resource()
	l1.Release()
	l2.Release()

	warm.setIdle(5 * time.Second)
	stale.setIdle(10 * time.Second)

	l3, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if l3.Resource() != warm {
		t.Error("expected the warmest (smallest idle time) resource")
	}
}

func TestPoolCleanupEvictsStalest(t *testing.T) {
	// Scenario: min=1, max=2, both idle beyond the threshold. Exactly one
	// resource is evicted, bounded below by min, and it is the stalest.
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MinCount = 1
	cfg.MaxCount = 2
	cfg.MaxIdleTime = 60 * time.Second
	cfg.CleanInterval = 1 // every Get runs a cleanup pass

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, _ := p.Get()
	l2, _ := p.Get()
	a, b := l1.Resource(), l2.Resource()
	l1.Release()
	l2.Release()

	a.setIdle(61 * time.Second)
	b.setIdle(90 * time.Second)

	l3, err := p.Get()
	if err != nil {
		t.Fatalf("Get after idle failed: %v", err)
	}
	defer l3.Release()

	stats := p.Stats()
	if stats.Total != 1 {
		t.Errorf("total after cleanup = %d, want 1", stats.Total)
	}
	if stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
	if !b.isClosed() {
		t.Error("stalest resource should have been closed")
	}
	if a.isClosed() {
		t.Error("warmer resource should have survived")
	}
	if l3.Resource() != a {
		t.Error("survivor should be the granted resource")
	}
}

func TestPoolCleanupRespectsCheckouts(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MinCount = 0
	cfg.MaxCount = 2
	cfg.MaxIdleTime = time.Second
	cfg.CleanInterval = 1

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, _ := p.Get()
	held := l1.Resource()
	held.setIdle(time.Hour) // stale but checked out

	l2, _ := p.Get()
	l2.Release()

	if held.isClosed() {
		t.Error("checked-out resource must never be evicted")
	}
	if stats := p.Stats(); stats.InUse != 1 {
		t.Errorf("in use = %d, want 1", stats.InUse)
	}
	l1.Release()
}

func TestPoolCleanupNoIdleNoOp(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MinCount = 0
	cfg.MaxCount = 3
	cfg.CleanInterval = 1

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, _ := p.Get()
	l2, _ := p.Get()

	if stats := p.Stats(); stats.Evictions != 0 {
		t.Errorf("evictions = %d, want 0 while everything is checked out", stats.Evictions)
	}
	l1.Release()
	l2.Release()
}

func TestPoolPingFailureReconnects(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 1

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, _ := p.Get()
	r := l1.Resource()
	l1.Release()

	r.mu.Lock()
	r.pingOK = false
	connectsBefore := r.connects
	r.mu.Unlock()

	l2, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer l2.Release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connects != connectsBefore+1 {
		t.Errorf("connects = %d, want %d (reconnect after failed ping)", r.connects, connectsBefore+1)
	}
}

func TestPoolConnectFailurePropagates(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 1

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, _ := p.Get()
	r := l1.Resource()
	l1.Release()

	r.mu.Lock()
	r.pingOK = false
	r.connectErr = errors.New("network down")
	r.mu.Unlock()

	if _, err := p.Get(); err == nil {
		t.Fatal("Get should propagate the connect failure")
	}

	// The resource stays in the pool, idle; the next grant retries.
	stats := p.Stats()
	if stats.Total != 1 || stats.Idle != 1 {
		t.Errorf("stats after connect failure = %+v", stats)
	}

	r.mu.Lock()
	r.connectErr = nil
	r.mu.Unlock()

	l2, err := p.Get()
	if err != nil {
		t.Fatalf("Get after recovery failed: %v", err)
	}
	l2.Release()
}

func TestPoolMakesResourceReusable(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 1

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, _ := p.Get()
	r := l1.Resource()
	r.mu.Lock()
	r.reusable = false
	r.mu.Unlock()
	l1.Release()

	l2, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer l2.Release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.makeReusables != 1 {
		t.Errorf("makeReusables = %d, want 1", r.makeReusables)
	}
}

func TestPoolMinExceedsMax(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MinCount = 5
	cfg.MaxCount = 2

	if _, err := New("bad", ff.factory, cfg); !errors.IsConfiguration(err) {
		t.Errorf("New error = %v, want ErrConfiguration", err)
	}
}

func TestPoolClose(t *testing.T) {
	ff := &fakeFactory{}
	p, err := New("test", ff.factory, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l, _ := p.Get()
	r := l.Resource()
	l.Release()

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !r.isClosed() {
		t.Error("pool resources should be closed on teardown")
	}
	if _, err := p.Get(); !errors.IsPoolClosed(err) {
		t.Errorf("Get after Close = %v, want ErrPoolClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 1

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l, _ := p.Get()
	l.Release()
	l.Release()

	if stats := p.Stats(); stats.Idle != 1 {
		t.Errorf("idle = %d after double release, want 1", stats.Idle)
	}
}

func TestPoolConcurrentNoDoubleCheckout(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 4

	p, err := New("test", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	var doubles int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				lease, err := p.Get()
				if err != nil {
					if !errors.IsEmptyPool(err) {
						t.Errorf("unexpected Get error: %v", err)
						return
					}
					continue
				}
				r := lease.Resource()
				if atomic.AddInt32(&r.holders, 1) != 1 {
					atomic.AddInt32(&doubles, 1)
				}
				atomic.AddInt32(&r.holders, -1)
				lease.Release()
			}
		}()
	}
	wg.Wait()

	if doubles != 0 {
		t.Errorf("%d double checkouts observed", doubles)
	}
	if stats := p.Stats(); stats.Total > cfg.MaxCount {
		t.Errorf("total = %d exceeds max %d", stats.Total, cfg.MaxCount)
	}
}

func TestPoolCooperativeMode(t *testing.T) {
	ff := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxCount = 2
	cfg.Cooperative = true

	p, err := New("coop", ff.factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	l1, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	l1.Release()

	if stats := p.Stats(); stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
}

func TestUpdateMetrics(t *testing.T) {
	UpdateMetrics(Stats{MaxCount: 8, Total: 5, Idle: 2, InUse: 3})

	if PoolResourcesMax.Value() != 8 {
		t.Errorf("max gauge = %d, want 8", PoolResourcesMax.Value())
	}
	if PoolResourcesInUse.Value() != 3 {
		t.Errorf("in-use gauge = %d, want 3", PoolResourcesInUse.Value())
	}
}
