package scope

import (
	"testing"
	"time"

	"github.com/smartpool-go/smartpool/lib/errors"
)

// txRecorder counts transaction verb calls and can fail any of them.
type txRecorder struct {
	begins      int
	commits     int
	rollbacks   int
	beginErr    error
	commitErr   error
	rollbackErr error
}

func (r *txRecorder) Begin() error {
	r.begins++
	return r.beginErr
}

func (r *txRecorder) Commit() error {
	r.commits++
	return r.commitErr
}

func (r *txRecorder) Rollback() error {
	r.rollbacks++
	return r.rollbackErr
}

func TestTransactionCommitsWhenFinished(t *testing.T) {
	rec := &txRecorder{}
	err := Transaction(rec, func(tx *Tx) error {
		tx.Finish()
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if rec.begins != 1 || rec.commits != 1 || rec.rollbacks != 0 {
		t.Fatalf("begins=%d commits=%d rollbacks=%d, want 1/1/0",
			rec.begins, rec.commits, rec.rollbacks)
	}
}

func TestTransactionRollsBackWithoutFinish(t *testing.T) {
	rec := &txRecorder{}
	err := Transaction(rec, func(tx *Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if rec.commits != 0 || rec.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", rec.commits, rec.rollbacks)
	}
}

func TestTransactionRollsBackOnErrorExactlyOnce(t *testing.T) {
	rec := &txRecorder{}
	boom := errors.New("boom")
	err := Transaction(rec, func(tx *Tx) error {
		tx.Finish() // error still wins over Finish
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction: %v, want original error", err)
	}
	if rec.commits != 0 || rec.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", rec.commits, rec.rollbacks)
	}
}

func TestTransactionRollsBackOnPanic(t *testing.T) {
	rec := &txRecorder{}
	defer func() {
		if recover() == nil {
			t.Fatal("panic did not propagate")
		}
		if rec.rollbacks != 1 {
			t.Fatalf("rollbacks=%d, want 1", rec.rollbacks)
		}
	}()
	_ = Transaction(rec, func(tx *Tx) error {
		panic("boom")
	})
}

func TestTransactionBeginErrorStopsEarly(t *testing.T) {
	rec := &txRecorder{beginErr: errors.ErrInTransaction}
	called := false
	err := Transaction(rec, func(tx *Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, errors.ErrInTransaction) {
		t.Fatalf("Transaction: %v, want ErrInTransaction", err)
	}
	if called {
		t.Fatal("body ran despite failed Begin")
	}
	if rec.commits != 0 || rec.rollbacks != 0 {
		t.Fatal("failed Begin must not commit or roll back")
	}
}

// lockRecorder tracks acquire/release calls on one key.
type lockRecorder struct {
	grant      bool
	acquireErr error
	acquires   int
	releases   []string
}

func (r *lockRecorder) AcquireLock(key string, timeout time.Duration) (bool, error) {
	r.acquires++
	return r.grant, r.acquireErr
}

func (r *lockRecorder) ReleaseLock(key string) (bool, error) {
	r.releases = append(r.releases, key)
	return true, nil
}

func TestWithLockReleasesAfterBody(t *testing.T) {
	rec := &lockRecorder{grant: true}
	ran := false
	err := WithLock(rec, "job", time.Second, func(acquired bool) error {
		if !acquired {
			t.Fatal("acquired=false on granted lock")
		}
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatal("body did not run")
	}
	if len(rec.releases) != 1 || rec.releases[0] != "job" {
		t.Fatalf("releases=%v, want [job]", rec.releases)
	}
}

func TestWithLockNotGrantedSkipsRelease(t *testing.T) {
	rec := &lockRecorder{grant: false}
	err := WithLock(rec, "job", time.Second, func(acquired bool) error {
		if acquired {
			t.Fatal("acquired=true on denied lock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if len(rec.releases) != 0 {
		t.Fatalf("released a lock that was never acquired: %v", rec.releases)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	rec := &lockRecorder{grant: true}
	boom := errors.New("boom")
	err := WithLock(rec, "job", time.Second, func(acquired bool) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithLock: %v, want original error", err)
	}
	if len(rec.releases) != 1 {
		t.Fatalf("releases=%v, want exactly one", rec.releases)
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	rec := &lockRecorder{grant: true}
	defer func() {
		if recover() == nil {
			t.Fatal("panic did not propagate")
		}
		if len(rec.releases) != 1 {
			t.Fatalf("releases=%v, want exactly one", rec.releases)
		}
	}()
	_ = WithLock(rec, "job", time.Second, func(acquired bool) error {
		panic("boom")
	})
}

func TestWithLockAcquireErrorStopsEarly(t *testing.T) {
	rec := &lockRecorder{acquireErr: errors.New("conn lost")}
	called := false
	err := WithLock(rec, "job", time.Second, func(acquired bool) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("WithLock succeeded, want acquire error")
	}
	if called {
		t.Fatal("body ran despite failed acquire")
	}
	if len(rec.releases) != 0 {
		t.Fatal("released after failed acquire")
	}
}
