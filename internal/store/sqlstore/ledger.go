package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stars/internal/core"
	"stars/internal/store"
)

const transactionColumns = `seq, id, child_id, family_id, kind, amount, description,
	source_submission_id, source_reward_id, created_at`

func scanTransaction(row scanner) (core.StarTransaction, error) {
	var (
		t         core.StarTransaction
		kind      string
		createdAt int64
	)
	err := row.Scan(&t.Seq, &t.ID, &t.ChildID, &t.FamilyID, &kind, &t.Amount, &t.Description,
		&t.SourceSubmissionID, &t.SourceRewardID, &createdAt)
	if err != nil {
		return core.StarTransaction{}, err
	}
	t.Kind = core.TransactionKind(kind)
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

func (t *tx) InsertTransaction(ctx context.Context, st core.StarTransaction) (core.StarTransaction, error) {
	if err := t.checkWrite(); err != nil {
		return core.StarTransaction{}, err
	}
	if err := st.Validate(); err != nil {
		return core.StarTransaction{}, err
	}
	err := t.queryRow(ctx,
		`INSERT INTO star_transactions (
		   id, child_id, family_id, kind, amount, description,
		   source_submission_id, source_reward_id, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING seq`,
		st.ID, st.ChildID, st.FamilyID, string(st.Kind), st.Amount, st.Description,
		st.SourceSubmissionID, st.SourceRewardID, toMillis(st.CreatedAt),
	).Scan(&st.Seq)
	if err != nil {
		return core.StarTransaction{}, insertErr("transaction", st.ID, err)
	}
	t.record(store.EntityTransaction, store.OpCreate, st.ID, st.FamilyID, st.ChildID)
	return st, nil
}

func (t *tx) GetTransaction(ctx context.Context, id string) (core.StarTransaction, error) {
	st, err := scanTransaction(t.queryRow(ctx,
		`SELECT `+transactionColumns+` FROM star_transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.StarTransaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.StarTransaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return st, nil
}

func (t *tx) EarnBySubmission(ctx context.Context, submissionID string) (core.StarTransaction, error) {
	st, err := scanTransaction(t.queryRow(ctx,
		`SELECT `+transactionColumns+` FROM star_transactions
		 WHERE kind = 'earn' AND source_submission_id = ?`, submissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.StarTransaction{}, fmt.Errorf("earn for submission %s: %w", submissionID, core.ErrNotFound)
	}
	if err != nil {
		return core.StarTransaction{}, fmt.Errorf("get earn for submission %s: %w", submissionID, err)
	}
	return st, nil
}

func (t *tx) SumTransactions(ctx context.Context, childID string) (int64, int64, error) {
	var earned, redeemed int64
	err := t.queryRow(ctx,
		`SELECT
		   CAST(COALESCE(SUM(CASE WHEN kind = 'earn' THEN amount ELSE 0 END), 0) AS BIGINT),
		   CAST(COALESCE(SUM(CASE WHEN kind = 'redeem' THEN amount ELSE 0 END), 0) AS BIGINT)
		 FROM star_transactions WHERE child_id = ?`, childID,
	).Scan(&earned, &redeemed)
	if err != nil {
		return 0, 0, fmt.Errorf("sum transactions for %s: %w", childID, err)
	}
	return earned, redeemed, nil
}

func (t *tx) ListTransactions(ctx context.Context, q store.TransactionQuery) ([]core.StarTransaction, error) {
	var (
		where []string
		args  []any
	)
	if q.ChildID != "" {
		where = append(where, "child_id = ?")
		args = append(args, q.ChildID)
	}
	if q.FamilyID != "" {
		where = append(where, "family_id = ?")
		args = append(args, q.FamilyID)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, q.AfterSeq)
	}
	if !q.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toMillis(q.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM star_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.StarTransaction
	for rows.Next() {
		st, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// PendingExports returns up to limit ledger records that have not been
// marked exported, oldest first.
func (s *Store) PendingExports(ctx context.Context, limit int) ([]core.StarTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT t.seq, t.id, t.child_id, t.family_id, t.kind, t.amount, t.description,
		        t.source_submission_id, t.source_reward_id, t.created_at
		 FROM star_transactions t
		 LEFT JOIN ledger_exports e ON e.transaction_id = t.id
		 WHERE e.transaction_id IS NULL
		 ORDER BY t.seq
		 LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	defer rows.Close()

	var out []core.StarTransaction
	for rows.Next() {
		st, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkExported records that a transaction reached the export sink. Marking
// twice is a no-op.
func (s *Store) MarkExported(ctx context.Context, transactionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO ledger_exports (transaction_id, exported_at) VALUES (?, ?)
		 ON CONFLICT (transaction_id) DO NOTHING`), transactionID, toMillis(at))
	if err != nil {
		return fmt.Errorf("mark %s exported: %w", transactionID, err)
	}
	return nil
}

// Exported reports whether a transaction has been marked exported.
func (s *Store) Exported(ctx context.Context, transactionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT COUNT(*) FROM ledger_exports WHERE transaction_id = ?`), transactionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check export %s: %w", transactionID, err)
	}
	return n > 0, nil
}
