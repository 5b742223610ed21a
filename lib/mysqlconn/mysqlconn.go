// Package mysqlconn implements the poolable resource contract over a
// single raw MySQL connection.
//
// It deliberately sits below database/sql: the stdlib layer maintains
// its own connection pool, which would fight the one this project
// provides. Each Conn owns exactly one driver-level connection obtained
// from a driver.Connector, so pool accounting maps one to one onto
// server connections. Advisory locks use MySQL's GET_LOCK/RELEASE_LOCK,
// which are connection-scoped and therefore need exactly this pinning
// behavior.
package mysqlconn

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/smartpool-go/smartpool/lib/errors"
	"github.com/smartpool-go/smartpool/lib/pool"
	"github.com/smartpool-go/smartpool/lib/proxy"
)

// connectTimeout bounds dialing and ping round trips.
const connectTimeout = 10 * time.Second

// Config carries the MySQL endpoint settings for one pool.
type Config struct {
	Addr     string
	User     string
	Password string
	Database string
}

// Conn is one MySQL connection implementing proxy.Client. It is not
// safe for concurrent use; the pool guarantees single ownership.
type Conn struct {
	connector driver.Connector
	conn      driver.Conn
	tx        driver.Tx
	locks     map[string]struct{}
	lastUsed  time.Time
}

// New builds an unconnected Conn over a connector. The connector is
// injectable so tests can supply a fake driver.
func New(connector driver.Connector) *Conn {
	return &Conn{
		connector: connector,
		locks:     make(map[string]struct{}),
		lastUsed:  time.Now(),
	}
}

// Factory returns a pool factory producing MySQL-backed clients.
func Factory(cfg Config) (pool.Factory[proxy.Client], error) {
	mcfg := mysql.NewConfig()
	mcfg.Net = "tcp"
	mcfg.Addr = cfg.Addr
	mcfg.User = cfg.User
	mcfg.Passwd = cfg.Password
	mcfg.DBName = cfg.Database
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, errors.Wrap("mysql connector", err)
	}
	return func() (proxy.Client, error) {
		return New(connector), nil
	}, nil
}

// touch records activity for idle accounting.
func (c *Conn) touch() {
	c.lastUsed = time.Now()
}

// ensureConnected guards capability calls on a dead resource.
func (c *Conn) ensureConnected() error {
	if c.conn == nil {
		return errors.ErrNotConnected
	}
	return nil
}

// Connect establishes the server connection, replacing any previous
// one. Transaction and lock state is reset: neither survives a new
// connection server-side.
func (c *Conn) Connect() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			log.WithError(err).Debug("closing stale connection")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	conn, err := c.connector.Connect(ctx)
	if err != nil {
		c.conn = nil
		return errors.Wrap("mysql connect", err)
	}
	c.conn = conn
	c.tx = nil
	c.locks = make(map[string]struct{})
	c.touch()
	return nil
}

// Close tears the connection down. It is idempotent and never
// propagates transport errors; a failed close still counts as closed.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		log.WithError(err).Debug("mysql close failed")
	}
	c.conn = nil
	c.tx = nil
	c.locks = make(map[string]struct{})
	return nil
}

// Ping verifies the connection is alive.
func (c *Conn) Ping() bool {
	if c.conn == nil {
		return false
	}
	pinger, ok := c.conn.(driver.Pinger)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return pinger.Ping(ctx) == nil
}

// IdleTime reports how long since the last capability call.
func (c *Conn) IdleTime() time.Duration {
	return time.Since(c.lastUsed)
}

// Reusable reports whether the connection carries no caller-visible
// state: no open transaction and no held advisory locks.
func (c *Conn) Reusable() bool {
	return c.tx == nil && len(c.locks) == 0
}

// MakeReusable forces the connection back to a clean state: any open
// transaction is rolled back and every held advisory lock released.
func (c *Conn) MakeReusable() error {
	var errs []error
	if c.tx != nil {
		log.Warn("rolling back abandoned transaction")
		if err := c.tx.Rollback(); err != nil {
			errs = append(errs, errors.Wrap("rollback", err))
		}
		c.tx = nil
	}
	for key := range c.locks {
		if _, err := c.ReleaseLock(key); err != nil {
			errs = append(errs, errors.Wrap("release lock "+key, err))
		}
	}
	return errors.Join(errs...)
}

// Query runs a read statement and materializes all rows. Text column
// values arrive from the driver as byte slices and are converted to
// strings.
func (c *Conn) Query(stmt string, args ...any) ([]proxy.Row, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	q, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, errors.New("driver does not support queries")
	}
	nv, err := namedValues(args)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(context.Background(), stmt, nv)
	if err != nil {
		return nil, errors.Wrap("query", err)
	}
	defer rows.Close()
	c.touch()

	cols := rows.Columns()
	out := []proxy.Row{}
	dest := make([]driver.Value, len(cols))
	for {
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap("scan", err)
		}
		row := make(proxy.Row, len(cols))
		for i, col := range cols {
			if b, ok := dest[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = dest[i]
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Exec runs a mutating statement.
func (c *Conn) Exec(stmt string, args ...any) (proxy.Result, error) {
	if err := c.ensureConnected(); err != nil {
		return proxy.Result{}, err
	}
	e, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return proxy.Result{}, errors.New("driver does not support exec")
	}
	nv, err := namedValues(args)
	if err != nil {
		return proxy.Result{}, err
	}
	res, err := e.ExecContext(context.Background(), stmt, nv)
	if err != nil {
		return proxy.Result{}, errors.Wrap("exec", err)
	}
	c.touch()

	out := proxy.Result{}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	return out, nil
}

// Begin opens a transaction. A second Begin on the same connection is
// a misuse error.
func (c *Conn) Begin() error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	if c.tx != nil {
		return errors.ErrInTransaction
	}
	b, ok := c.conn.(driver.ConnBeginTx)
	if !ok {
		return errors.New("driver does not support transactions")
	}
	tx, err := b.BeginTx(context.Background(), driver.TxOptions{})
	if err != nil {
		return errors.Wrap("begin", err)
	}
	c.tx = tx
	c.touch()
	return nil
}

// Commit commits the open transaction.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return errors.ErrNotInTransaction
	}
	err := c.tx.Commit()
	c.tx = nil
	c.touch()
	if err != nil {
		return errors.Wrap("commit", err)
	}
	return nil
}

// Rollback aborts the open transaction.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return errors.ErrNotInTransaction
	}
	err := c.tx.Rollback()
	c.tx = nil
	c.touch()
	if err != nil {
		return errors.Wrap("rollback", err)
	}
	return nil
}

// AcquireLock takes a server-side named lock via GET_LOCK, waiting up
// to timeout. GET_LOCK counts whole seconds, so the timeout is rounded
// up; sub-second waits would otherwise truncate to an immediate
// no-wait attempt. Held locks are tracked so Reusable and MakeReusable
// see them.
func (c *Conn) AcquireLock(key string, timeout time.Duration) (bool, error) {
	rows, err := c.Query("SELECT GET_LOCK(?, ?)", key, int64(math.Ceil(timeout.Seconds())))
	if err != nil {
		return false, err
	}
	granted := scalarIsOne(rows)
	if granted {
		c.locks[key] = struct{}{}
	}
	return granted, nil
}

// ReleaseLock releases a lock this connection holds. Releasing an
// untracked key is a no-op returning false; the server is not asked to
// release locks we never took.
func (c *Conn) ReleaseLock(key string) (bool, error) {
	if _, held := c.locks[key]; !held {
		return false, nil
	}
	rows, err := c.Query("SELECT RELEASE_LOCK(?)", key)
	if err != nil {
		return false, err
	}
	delete(c.locks, key)
	return scalarIsOne(rows), nil
}

// scalarIsOne reads a single-cell result like GET_LOCK's and reports
// whether it is 1.
func scalarIsOne(rows []proxy.Row) bool {
	if len(rows) != 1 {
		return false
	}
	for _, v := range rows[0] {
		switch x := v.(type) {
		case int64:
			return x == 1
		case string:
			return x == "1"
		}
	}
	return false
}

// namedValues converts caller arguments to the driver's parameter
// representation, widening integers and floats the way the driver
// expects.
func namedValues(args []any) ([]driver.NamedValue, error) {
	nv := make([]driver.NamedValue, len(args))
	for i, a := range args {
		var v driver.Value
		switch x := a.(type) {
		case nil, bool, int64, float64, string, []byte, time.Time:
			v = x
		case int:
			v = int64(x)
		case int32:
			v = int64(x)
		case uint:
			v = int64(x)
		case uint32:
			v = int64(x)
		case float32:
			v = float64(x)
		default:
			return nil, errors.New(fmt.Sprintf("unsupported argument type %T", a))
		}
		nv[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return nv, nil
}
