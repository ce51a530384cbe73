package loader

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records what loaders write through it. Only the transaction methods
// the loaders call are implemented.
type fakeDB struct {
	mu sync.Mutex

	beginErr     error
	execErr      map[string]error
	copyErr      error
	commitErr    error
	rowsAffected int64

	execs      []string
	copied     [][]any
	committed  bool
	rolledBack bool
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &fakeTx{db: db}, nil
}

type fakeTx struct {
	pgx.Tx
	db     *fakeDB
	closed bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	tx.db.execs = append(tx.db.execs, sql)
	if err := tx.db.execErr[sql]; err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("INSERT 0 " + strconv.FormatInt(tx.db.rowsAffected, 10)), nil
}

func (tx *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	if tx.db.copyErr != nil {
		return 0, tx.db.copyErr
	}

	var rows [][]any
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, values)
	}

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.copied = rows
	return int64(len(rows)), src.Err()
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.db.commitErr != nil {
		return tx.db.commitErr
	}
	tx.closed = true

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.rolledBack = true
	return nil
}

var errBoom = errors.New("boom")
