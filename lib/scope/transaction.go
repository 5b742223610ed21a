// Package scope provides guaranteed-release wrappers over the resource
// capability surface: transactions that roll back on every exit path
// unless explicitly finished, and advisory locks that are released iff
// they were acquired. The wrappers depend only on the capability
// methods, never on pool internals.
package scope

// TxConn is the transaction slice of the capability surface.
type TxConn interface {
	Begin() error
	Commit() error
	Rollback() error
}

// Tx is the finish-marker handed to a transaction body. Only an
// explicit Finish call makes the transaction commit; falling through
// without it rolls back.
type Tx struct {
	finished bool
}

// Finish marks the transaction for commit.
func (t *Tx) Finish() {
	t.finished = true
}

// Finished reports whether Finish was called.
func (t *Tx) Finished() bool {
	return t.finished
}

// Transaction runs fn inside a transaction on c.
//
// Begin is called first; beginning inside an open transaction is a
// fatal misuse error and is returned unretried. On return: if fn
// called Finish, the transaction commits; otherwise it rolls back.
// An error from fn rolls back exactly once and then propagates
// unchanged. A panic in fn rolls back and then re-panics.
//
//	err := scope.Transaction(sess, func(tx *scope.Tx) error {
//	    if _, err := sess.Exec("UPDATE ..."); err != nil {
//	        return err // rolled back
//	    }
//	    tx.Finish() // committed
//	    return nil
//	})
func Transaction(c TxConn, fn func(tx *Tx) error) error {
	if err := c.Begin(); err != nil {
		return err
	}

	tx := &Tx{}
	settled := false
	defer func() {
		if settled {
			return
		}
		// Panic path: roll back, then let the panic continue.
		if err := c.Rollback(); err != nil {
			log.WithError(err).Warn("rollback during panic failed")
		}
	}()

	if err := fn(tx); err != nil {
		settled = true
		if rbErr := c.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("rollback after error failed")
		}
		return err
	}

	settled = true
	if tx.Finished() {
		return c.Commit()
	}
	return c.Rollback()
}
