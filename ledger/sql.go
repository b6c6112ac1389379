package ledger

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/proofchain/errors"
)

// SQLRegistry is a local development ledger on the ledger_boxes table.
// Creation is INSERT ... ON CONFLICT DO NOTHING, so first writer wins per box.
type SQLRegistry struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLRegistry wraps a migrated database.
func NewSQLRegistry(db *sql.DB, logger *zap.SugaredLogger) *SQLRegistry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLRegistry{db: db, logger: logger.Named("ledger.sql")}
}

func (s *SQLRegistry) BoxExists(ctx context.Context, name []byte) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ledger_boxes WHERE name = ?)`, name).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check box %s", short(name))
	}
	return exists, nil
}

func (s *SQLRegistry) BoxCreateIfAbsent(ctx context.Context, name []byte, size int) (bool, error) {
	created, _, err := s.insert(ctx, name, make([]byte, size))
	return created, err
}

func (s *SQLRegistry) BoxCreateWith(ctx context.Context, name, value []byte) (bool, string, error) {
	return s.insert(ctx, name, value)
}

func (s *SQLRegistry) insert(ctx context.Context, name, value []byte) (bool, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", errors.Wrap(err, "begin ledger transaction")
	}
	defer tx.Rollback()

	var round uint64
	if err := tx.QueryRowContext(ctx, `UPDATE ledger_meta SET round = round + 1 WHERE id = 1 RETURNING round`).Scan(&round); err != nil {
		return false, "", errors.Wrap(err, "advance round")
	}

	txid := localTxID(round, name)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_boxes (name, value, size, round, txid) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, value, len(value), round, txid)
	if err != nil {
		return false, "", errors.Wrapf(err, "create box %s", short(name))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		// Existing box: roll back the round advance too
		return false, "", nil
	}

	if err := tx.Commit(); err != nil {
		return false, "", errors.Wrap(err, "commit ledger transaction")
	}
	s.logger.Debugw("Box created", "box", short(name), "round", round, "size", len(value))
	return true, txid, nil
}

func (s *SQLRegistry) BoxPut(ctx context.Context, name, value []byte) error {
	var size int
	err := s.db.QueryRowContext(ctx, `SELECT size FROM ledger_boxes WHERE name = ?`, name).Scan(&size)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("box %s", short(name))
	}
	if err != nil {
		return errors.Wrapf(err, "read box %s", short(name))
	}
	if size != len(value) {
		return errors.Wrapf(ErrBoxSizeMismatch, "box %s has %d bytes, value has %d", short(name), size, len(value))
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE ledger_boxes SET value = ? WHERE name = ?`, value, name); err != nil {
		return errors.Wrapf(err, "put box %s", short(name))
	}
	return nil
}

func (s *SQLRegistry) BoxGet(ctx context.Context, name []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ledger_boxes WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get box %s", short(name))
	}
	return value, true, nil
}

func (s *SQLRegistry) CurrentRound(ctx context.Context) (uint64, error) {
	var round uint64
	if err := s.db.QueryRowContext(ctx, `SELECT round FROM ledger_meta WHERE id = 1`).Scan(&round); err != nil {
		return 0, errors.Wrap(err, "read round")
	}
	return round, nil
}

func (s *SQLRegistry) TxConfirmed(ctx context.Context, txid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ledger_boxes WHERE txid = ?)`, txid).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check transaction")
	}
	return exists, nil
}
