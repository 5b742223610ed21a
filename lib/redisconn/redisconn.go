// Package redisconn implements the poolable resource contract over a
// dedicated Redis connection.
//
// Transactions map onto MULTI/EXEC via a transactional pipeline:
// between Begin and Commit, commands are queued and their replies are
// not observable until Commit runs the pipeline. Advisory locks are
// emulated with SET NX on a namespaced sentinel key, polled until the
// caller's timeout; release deletes the key. Locks held by a
// connection pin it the same way an open transaction does.
package redisconn

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartpool-go/smartpool/lib/errors"
	"github.com/smartpool-go/smartpool/lib/pool"
	"github.com/smartpool-go/smartpool/lib/proxy"
)

const (
	// commandTimeout bounds individual command round trips.
	commandTimeout = 10 * time.Second
	// lockPollInterval is how often a contended lock is retried.
	lockPollInterval = 50 * time.Millisecond
	// lockPrefix namespaces advisory lock sentinel keys.
	lockPrefix = "smartpool:lock:"
)

// Config carries the Redis endpoint settings for one pool.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Conn is one Redis connection implementing proxy.Client. It is not
// safe for concurrent use; the pool guarantees single ownership.
type Conn struct {
	opts     *redis.Options
	client   *redis.Client
	pipe     redis.Pipeliner
	locks    map[string]struct{}
	lastUsed time.Time
}

// New builds an unconnected Conn from client options.
func New(opts *redis.Options) *Conn {
	return &Conn{
		opts:     opts,
		locks:    make(map[string]struct{}),
		lastUsed: time.Now(),
	}
}

// Factory returns a pool factory producing Redis-backed clients. The
// pool size is enforced by the resource pool, so each client runs a
// single underlying connection.
func Factory(cfg Config) pool.Factory[proxy.Client] {
	return func() (proxy.Client, error) {
		return New(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: 1,
		}), nil
	}
}

func (c *Conn) touch() {
	c.lastUsed = time.Now()
}

func (c *Conn) ensureConnected() error {
	if c.client == nil {
		return errors.ErrNotConnected
	}
	return nil
}

// Connect establishes and verifies the connection, replacing any
// previous one. Transaction and lock state is reset.
func (c *Conn) Connect() error {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			log.WithError(err).Debug("closing stale client")
		}
	}
	client := redis.NewClient(c.opts)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		c.client = nil
		return errors.Wrap("redis connect", err)
	}
	// Sentinel keys live in the server keyspace, not on the connection,
	// so locks tracked before a reconnect must be deleted explicitly or
	// they stay held forever. Use the fresh client; the old one may be
	// the reason we are reconnecting.
	for key := range c.locks {
		if err := client.Del(ctx, lockPrefix+key).Err(); err != nil {
			log.WithField("key", key).WithError(err).Warn("releasing advisory lock on reconnect failed")
		}
	}
	c.client = client
	c.pipe = nil
	c.locks = make(map[string]struct{})
	c.touch()
	return nil
}

// Close tears the connection down. Idempotent; transport errors on
// close are logged, not propagated.
func (c *Conn) Close() error {
	if c.client == nil {
		return nil
	}
	if len(c.locks) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		for key := range c.locks {
			if err := c.client.Del(ctx, lockPrefix+key).Err(); err != nil {
				log.WithField("key", key).WithError(err).Warn("releasing advisory lock on close failed")
			}
		}
		cancel()
	}
	if err := c.client.Close(); err != nil {
		log.WithError(err).Debug("redis close failed")
	}
	c.client = nil
	c.pipe = nil
	c.locks = make(map[string]struct{})
	return nil
}

// Ping verifies the connection is alive.
func (c *Conn) Ping() bool {
	if c.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}

// IdleTime reports how long since the last capability call.
func (c *Conn) IdleTime() time.Duration {
	return time.Since(c.lastUsed)
}

// Reusable reports whether the connection carries no caller-visible
// state: no open pipeline and no held advisory locks.
func (c *Conn) Reusable() bool {
	return c.pipe == nil && len(c.locks) == 0
}

// MakeReusable discards any open pipeline and releases every held
// advisory lock.
func (c *Conn) MakeReusable() error {
	if c.pipe != nil {
		log.Warn("discarding abandoned transaction pipeline")
		c.pipe.Discard()
		c.pipe = nil
	}
	var errs []error
	for key := range c.locks {
		if _, err := c.ReleaseLock(key); err != nil {
			errs = append(errs, errors.Wrap("release lock "+key, err))
		}
	}
	return errors.Join(errs...)
}

// do routes a command through the open pipeline when a transaction is
// active, or straight to the server otherwise.
func (c *Conn) do(argv []any) (*redis.Cmd, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	c.touch()
	if c.pipe != nil {
		return c.pipe.Do(ctx, argv...), nil
	}
	return c.client.Do(ctx, argv...), nil
}

// Query runs a command and materializes its reply as rows: one row per
// array element, or a single row for scalar replies, each under the
// "value" column. Inside a transaction the command is queued and Query
// returns no rows; replies surface when Commit runs the pipeline.
func (c *Conn) Query(stmt string, args ...any) ([]proxy.Row, error) {
	cmd, err := c.do(argv(stmt, args))
	if err != nil {
		return nil, err
	}
	if c.pipe != nil {
		return nil, nil
	}
	val, err := cmd.Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap("redis query", err)
	}
	switch v := val.(type) {
	case []any:
		rows := make([]proxy.Row, len(v))
		for i, elem := range v {
			rows[i] = proxy.Row{"value": elem}
		}
		return rows, nil
	default:
		return []proxy.Row{{"value": v}}, nil
	}
}

// Exec runs a mutating command. Integer replies are reported as the
// affected count. Inside a transaction the command is queued and the
// count is not available.
func (c *Conn) Exec(stmt string, args ...any) (proxy.Result, error) {
	cmd, err := c.do(argv(stmt, args))
	if err != nil {
		return proxy.Result{}, err
	}
	if c.pipe != nil {
		return proxy.Result{}, nil
	}
	val, err := cmd.Result()
	if err != nil && err != redis.Nil {
		return proxy.Result{}, errors.Wrap("redis exec", err)
	}
	res := proxy.Result{}
	if n, ok := val.(int64); ok {
		res.RowsAffected = n
	}
	return res, nil
}

// Begin opens a MULTI/EXEC pipeline. A second Begin is a misuse error.
func (c *Conn) Begin() error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	if c.pipe != nil {
		return errors.ErrInTransaction
	}
	c.pipe = c.client.TxPipeline()
	c.touch()
	return nil
}

// Commit runs the queued pipeline atomically.
func (c *Conn) Commit() error {
	if c.pipe == nil {
		return errors.ErrNotInTransaction
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	_, err := c.pipe.Exec(ctx)
	c.pipe = nil
	c.touch()
	if err != nil && err != redis.Nil {
		return errors.Wrap("redis commit", err)
	}
	return nil
}

// Rollback discards the queued pipeline without sending it.
func (c *Conn) Rollback() error {
	if c.pipe == nil {
		return errors.ErrNotInTransaction
	}
	c.pipe.Discard()
	c.pipe = nil
	c.touch()
	return nil
}

// AcquireLock emulates a named advisory lock with SET NX on a sentinel
// key, polling until granted or timeout elapses.
func (c *Conn) AcquireLock(key string, timeout time.Duration) (bool, error) {
	if err := c.ensureConnected(); err != nil {
		return false, err
	}
	deadline := time.Now().Add(timeout)
	sentinel := lockPrefix + key
	for {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		ok, err := c.client.SetNX(ctx, sentinel, "1", 0).Result()
		cancel()
		if err != nil {
			return false, errors.Wrap("acquire lock", err)
		}
		c.touch()
		if ok {
			c.locks[key] = struct{}{}
			return true, nil
		}
		if !time.Now().Add(lockPollInterval).Before(deadline) {
			return false, nil
		}
		time.Sleep(lockPollInterval)
	}
}

// ReleaseLock deletes the sentinel for a lock this connection holds.
// Untracked keys are a no-op returning false.
func (c *Conn) ReleaseLock(key string) (bool, error) {
	if _, held := c.locks[key]; !held {
		return false, nil
	}
	if err := c.ensureConnected(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	n, err := c.client.Del(ctx, lockPrefix+key).Result()
	if err != nil {
		return false, errors.Wrap("release lock", err)
	}
	delete(c.locks, key)
	c.touch()
	return n > 0, nil
}

// argv assembles the command vector: the statement may carry the
// command name alone or leading arguments separated by spaces.
func argv(stmt string, args []any) []any {
	words := strings.Fields(stmt)
	out := make([]any, 0, len(words)+len(args))
	for _, w := range words {
		out = append(out, w)
	}
	return append(out, args...)
}
