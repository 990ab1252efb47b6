// Package ledger is the append-only record of stars earned and spent. The
// balance is always derived from it, never stored.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stars/internal/core"
	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/store"
)

// Range is an optional half-open interval [From, To). Zero bounds are open.
type Range struct {
	From time.Time
	To   time.Time
}

type Ledger struct {
	store  store.Store
	now    func() time.Time
	newID  func() string
	logger *log.StructuredLogger
}

type Option func(*Ledger)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDs overrides transaction id generation.
func WithIDs(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: log.NewStructuredLogger(log.ForComponent(log.ComponentLedger)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// AppendEarn credits amount to the child for a submission. A second credit
// for the same submission fails with core.ErrDuplicateCredit and changes
// nothing.
func (l *Ledger) AppendEarn(ctx context.Context, childID string, amount int64, description, sourceSubmissionID string) (string, error) {
	var (
		rec     core.StarTransaction
		balance int64
	)
	err := l.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if rec, err = l.EarnTx(ctx, tx, childID, amount, description, sourceSubmissionID); err != nil {
			return err
		}
		balance, err = l.BalanceTx(ctx, tx, childID)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateCredit) {
			metrics.DuplicateCredits.Inc()
		}
		return "", err
	}

	metrics.RecordAppend(string(core.KindEarn), amount)
	l.logger.LogLedgerAppend(ctx, childID, rec.ID, string(rec.Kind), amount, balance)
	return rec.ID, nil
}

// AppendRedeem debits amount from the child only if the balance covers it.
// The check and the append happen in one transaction holding the child's
// lock, so concurrent redemptions cannot overdraw.
func (l *Ledger) AppendRedeem(ctx context.Context, childID string, amount int64, description, sourceRewardID string) (string, error) {
	var (
		rec     core.StarTransaction
		balance int64
	)
	err := l.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if rec, err = l.RedeemTx(ctx, tx, childID, amount, description, sourceRewardID); err != nil {
			return err
		}
		balance, err = l.BalanceTx(ctx, tx, childID)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrInsufficientBalance) {
			metrics.RedemptionsDenied.Inc()
		}
		return "", err
	}

	metrics.RecordAppend(string(core.KindRedeem), amount)
	l.logger.LogLedgerAppend(ctx, childID, rec.ID, string(rec.Kind), amount, balance)
	return rec.ID, nil
}

// EarnTx appends an earn record inside an existing transaction.
func (l *Ledger) EarnTx(ctx context.Context, tx store.Tx, childID string, amount int64, description, sourceSubmissionID string) (core.StarTransaction, error) {
	if amount <= 0 {
		return core.StarTransaction{}, core.ErrInvalidStars
	}
	if sourceSubmissionID == "" {
		return core.StarTransaction{}, core.ErrMissingSource
	}
	child, err := tx.LockChild(ctx, childID)
	if err != nil {
		return core.StarTransaction{}, err
	}

	_, err = tx.EarnBySubmission(ctx, sourceSubmissionID)
	switch {
	case err == nil:
		return core.StarTransaction{}, fmt.Errorf("submission %s: %w", sourceSubmissionID, core.ErrDuplicateCredit)
	case !errors.Is(err, core.ErrNotFound):
		return core.StarTransaction{}, err
	}

	rec, err := tx.InsertTransaction(ctx, core.StarTransaction{
		ID:                 l.newID(),
		ChildID:            child.ID,
		FamilyID:           child.FamilyID,
		Kind:               core.KindEarn,
		Amount:             amount,
		Description:        description,
		SourceSubmissionID: sourceSubmissionID,
		CreatedAt:          l.Now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return core.StarTransaction{}, fmt.Errorf("submission %s: %w", sourceSubmissionID, core.ErrDuplicateCredit)
	}
	if err != nil {
		return core.StarTransaction{}, fmt.Errorf("append earn: %w", err)
	}
	return rec, nil
}

// RedeemTx appends a redeem record inside an existing transaction, failing
// with *core.InsufficientBalanceError when the balance is short.
func (l *Ledger) RedeemTx(ctx context.Context, tx store.Tx, childID string, amount int64, description, sourceRewardID string) (core.StarTransaction, error) {
	if amount <= 0 {
		return core.StarTransaction{}, core.ErrInvalidStars
	}
	if sourceRewardID == "" {
		return core.StarTransaction{}, core.ErrMissingSource
	}
	child, err := tx.LockChild(ctx, childID)
	if err != nil {
		return core.StarTransaction{}, err
	}

	balance, err := l.BalanceTx(ctx, tx, child.ID)
	if err != nil {
		return core.StarTransaction{}, err
	}
	if balance < amount {
		return core.StarTransaction{}, &core.InsufficientBalanceError{
			ChildID:   child.ID,
			Balance:   balance,
			Requested: amount,
		}
	}

	rec, err := tx.InsertTransaction(ctx, core.StarTransaction{
		ID:             l.newID(),
		ChildID:        child.ID,
		FamilyID:       child.FamilyID,
		Kind:           core.KindRedeem,
		Amount:         amount,
		Description:    description,
		SourceRewardID: sourceRewardID,
		CreatedAt:      l.Now(),
	})
	if err != nil {
		return core.StarTransaction{}, fmt.Errorf("append redeem: %w", err)
	}
	return rec, nil
}

// BalanceTx derives the balance inside an existing transaction.
func (l *Ledger) BalanceTx(ctx context.Context, tx store.Tx, childID string) (int64, error) {
	earned, redeemed, err := tx.SumTransactions(ctx, childID)
	if err != nil {
		return 0, fmt.Errorf("balance for %s: %w", childID, err)
	}
	return earned - redeemed, nil
}

// Balance returns sum(earn) - sum(redeem) for a known child.
func (l *Ledger) Balance(ctx context.Context, childID string) (int64, error) {
	var balance int64
	err := l.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetChild(ctx, childID); err != nil {
			return err
		}
		var err error
		balance, err = l.BalanceTx(ctx, tx, childID)
		return err
	})
	return balance, err
}

// History returns the child's records in insertion order.
func (l *Ledger) History(ctx context.Context, childID string, r Range) ([]core.StarTransaction, error) {
	var out []core.StarTransaction
	err := l.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetChild(ctx, childID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTransactions(ctx, store.TransactionQuery{ChildID: childID, From: r.From, To: r.To})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transaction returns one ledger record.
func (l *Ledger) Transaction(ctx context.Context, id string) (core.StarTransaction, error) {
	var rec core.StarTransaction
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		rec, err = tx.GetTransaction(ctx, id)
		return err
	})
	return rec, err
}
