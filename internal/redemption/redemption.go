// Package redemption lets a child spend stars on a catalog reward. The debit
// and the pending redemption are written together; fulfilment is a separate
// step with no ledger effect.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stars/internal/catalog"
	"stars/internal/core"
	"stars/internal/ledger"
	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/store"
)

type Filter struct {
	FamilyID string
	ChildID  string
	Status   core.RedemptionStatus
	Limit    int
}

type Workflow struct {
	store  store.Store
	ledger *ledger.Ledger
	now    func() time.Time
	newID  func() string
	logger *log.Logger
}

type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithIDs(newID func() string) Option {
	return func(w *Workflow) { w.newID = newID }
}

func New(st store.Store, l *ledger.Ledger, opts ...Option) *Workflow {
	w := &Workflow{
		store:  st,
		ledger: l,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: log.ForComponent(log.ComponentRedemption),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Redeem debits the reward's cost and records a pending redemption. A
// child who cannot afford it gets a *core.InsufficientBalanceError and
// nothing is written.
func (w *Workflow) Redeem(ctx context.Context, childID, rewardID string) (core.RewardRedemption, error) {
	var r core.RewardRedemption
	err := w.store.Update(ctx, func(tx store.Tx) error {
		child, reward, err := catalog.RedeemableTx(ctx, tx, childID, rewardID)
		if err != nil {
			return err
		}
		rec, err := w.ledger.RedeemTx(ctx, tx, child.ID, reward.Cost, "Redeemed: "+reward.Name, reward.ID)
		if err != nil {
			return err
		}
		r = core.RewardRedemption{
			ID:            w.newID(),
			RewardID:      reward.ID,
			RewardName:    reward.Name,
			ChildID:       child.ID,
			FamilyID:      child.FamilyID,
			StarsSpent:    reward.Cost,
			Status:        core.RedemptionPending,
			TransactionID: rec.ID,
			RedeemedAt:    rec.CreatedAt,
		}
		if err := tx.InsertRedemption(ctx, r); err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrInsufficientBalance) {
			metrics.RedemptionsDenied.Inc()
			w.logger.InfoContext(ctx, "Redemption denied",
				log.FieldChildID, childID, log.FieldRewardID, rewardID, log.FieldError, err)
		} else {
			w.logger.WarnContext(ctx, "Redemption failed", log.FieldChildID, childID,
				log.FieldRewardID, rewardID, log.FieldOperation, log.OpRedeem, log.FieldError, err)
		}
		return core.RewardRedemption{}, err
	}

	metrics.RecordAppend(string(core.KindRedeem), r.StarsSpent)
	metrics.RecordTransition("redemption", string(r.Status))
	w.logger.ForChild(r.FamilyID, r.ChildID).InfoContext(ctx, "Reward redeemed",
		log.FieldRedemptionID, r.ID, log.FieldRewardID, r.RewardID,
		log.FieldTransactionID, r.TransactionID, log.FieldStars, r.StarsSpent)
	return r, nil
}

// Fulfill marks a redemption delivered. Fulfilling twice returns
// core.ErrAlreadyFulfilled.
func (w *Workflow) Fulfill(ctx context.Context, id string) (core.RewardRedemption, error) {
	var r core.RewardRedemption
	err := w.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.GetRedemption(ctx, id); err != nil {
			return err
		}
		if r.Status == core.RedemptionFulfilled {
			return fmt.Errorf("redemption %s: %w", id, core.ErrAlreadyFulfilled)
		}
		if !r.Status.CanTransition(core.RedemptionFulfilled) {
			return &core.TransitionError{Entity: "redemption", ID: id, From: string(r.Status), To: string(core.RedemptionFulfilled)}
		}
		r.Status = core.RedemptionFulfilled
		r.FulfilledAt = w.now().UTC()
		err = tx.UpdateRedemption(ctx, r, core.RedemptionPending)
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("redemption %s: %w", id, core.ErrAlreadyFulfilled)
		}
		return err
	})
	if err != nil {
		w.logger.WarnContext(ctx, "Redemption fulfilment refused",
			log.FieldRedemptionID, id, log.FieldOperation, log.OpFulfill, log.FieldError, err)
		return core.RewardRedemption{}, err
	}
	metrics.RecordTransition("redemption", string(r.Status))
	w.logger.ForChild(r.FamilyID, r.ChildID).InfoContext(ctx, "Redemption fulfilled", log.FieldRedemptionID, r.ID)
	return r, nil
}

func (w *Workflow) Get(ctx context.Context, id string) (core.RewardRedemption, error) {
	var r core.RewardRedemption
	err := w.store.View(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.GetRedemption(ctx, id)
		return err
	})
	return r, err
}

// List returns matching redemptions, most recent first.
func (w *Workflow) List(ctx context.Context, f Filter) ([]core.RewardRedemption, error) {
	var out []core.RewardRedemption
	err := w.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListRedemptions(ctx, store.Query{
			FamilyID: f.FamilyID,
			ChildID:  f.ChildID,
			Status:   string(f.Status),
			Limit:    f.Limit,
		})
		return err
	})
	return out, err
}
