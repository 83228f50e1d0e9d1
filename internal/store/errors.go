package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConstraint is returned (wrapped) when a write fails a Postgres
// constraint — callers can test for it with errors.Is rather than
// matching on driver-specific error strings.
var ErrConstraint = errors.New("store: constraint violation")

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isPGConstraint reports whether err is a Postgres constraint violation
// (SQLSTATE class 23).
func isPGConstraint(err error) bool {
	type causer interface{ SQLState() string }
	var c causer
	if errors.As(err, &c) {
		if strings.HasPrefix(c.SQLState(), "23") {
			return true
		}
	}
	return false
}

// wrapWriteErr annotates a write-path error with ErrConstraint when the
// underlying cause is a constraint violation, leaving any other error
// unwrapped-but-wrapped in the usual fmt.Errorf("%w") chain.
func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isPGConstraint(err) {
		return &constraintError{op: op, cause: err}
	}
	return err
}

type constraintError struct {
	op    string
	cause error
}

func (e *constraintError) Error() string { return "store: " + e.op + ": " + e.cause.Error() }
func (e *constraintError) Unwrap() error { return ErrConstraint }

// pgxTx is the subset of pgx.Tx used by helpers that need to compose
// multiple statements into a caller-managed transaction.
type pgxTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
