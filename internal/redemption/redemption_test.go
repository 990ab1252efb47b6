package redemption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"stars/internal/core"
	"stars/internal/ledger"
	"stars/internal/store"
	"stars/internal/store/storetest"
)

func setup(t *testing.T, st store.Store, balance int64) (*ledger.Ledger, *Workflow) {
	t.Helper()
	storetest.AddChild(t, st, "fam", "mia")
	clock := storetest.Clock()
	l := ledger.New(st, ledger.WithClock(clock))
	if balance > 0 {
		if _, err := l.AppendEarn(context.Background(), "mia", balance, "seed", "sub-seed"); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return l, New(st, l, WithClock(clock))
}

func TestRedeemDebitsAndCreatesPendingRedemption(t *testing.T) {
	tests := []struct {
		balance int64
		cost    int64
		ok      bool
	}{
		{balance: 5, cost: 5, ok: true},
		{balance: 9, cost: 4, ok: true},
		{balance: 4, cost: 5, ok: false},
		{balance: 0, cost: 1, ok: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("balance %d cost %d", tt.balance, tt.cost), func(t *testing.T) {
			storetest.Each(t, func(t *testing.T, st store.Store) {
				ctx := context.Background()
				l, w := setup(t, st, tt.balance)
				storetest.AddReward(t, st, "fam", "treat", tt.cost)

				r, err := w.Redeem(ctx, "mia", "treat")
				bal, _ := l.Balance(ctx, "mia")

				if !tt.ok {
					var ib *core.InsufficientBalanceError
					if !errors.As(err, &ib) || ib.Balance != tt.balance || ib.Requested != tt.cost {
						t.Fatalf("expected InsufficientBalanceError, got %v", err)
					}
					if bal != tt.balance {
						t.Fatalf("balance changed to %d on a denied redemption", bal)
					}
					list, _ := w.List(ctx, Filter{ChildID: "mia"})
					if len(list) != 0 {
						t.Fatalf("denied redemption was recorded: %+v", list)
					}
					return
				}

				if err != nil {
					t.Fatalf("redeem: %v", err)
				}
				if bal != tt.balance-tt.cost {
					t.Fatalf("balance = %d, want %d", bal, tt.balance-tt.cost)
				}
				if r.Status != core.RedemptionPending || r.StarsSpent != tt.cost || r.RewardName != "treat" {
					t.Fatalf("unexpected redemption %+v", r)
				}
				rec, err := l.Transaction(ctx, r.TransactionID)
				if err != nil {
					t.Fatalf("linked transaction: %v", err)
				}
				if rec.Kind != core.KindRedeem || rec.Amount != tt.cost || rec.SourceRewardID != "treat" {
					t.Fatalf("unexpected debit %+v", rec)
				}
			})
		})
	}
}

func TestRedeemChecksReward(t *testing.T) {
	ctx := context.Background()
	st := storetest.SQLite(t)
	_, w := setup(t, st, 10)
	storetest.AddChild(t, st, "other", "zoe")
	storetest.AddReward(t, st, "other", "their-treat", 1)
	gone := storetest.AddReward(t, st, "fam", "gone", 1)
	gone.Active = false
	if err := st.Update(ctx, func(tx store.Tx) error { return tx.UpdateReward(ctx, gone) }); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	tests := []struct {
		name   string
		child  string
		reward string
		want   error
	}{
		{"inactive reward", "mia", "gone", core.ErrRewardInactive},
		{"other family", "mia", "their-treat", core.ErrNotFound},
		{"unknown reward", "mia", "nope", core.ErrNotFound},
		{"unknown child", "ghost", "gone", core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.Redeem(ctx, tt.child, tt.reward); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

var errInsertFailed = errors.New("insert failed")

// brokenInsertStore fails every redemption insert inside Update.
type brokenInsertStore struct {
	store.Store
}

type brokenInsertTx struct {
	store.Tx
}

func (s brokenInsertStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	return s.Store.Update(ctx, func(tx store.Tx) error { return fn(brokenInsertTx{tx}) })
}

func (brokenInsertTx) InsertRedemption(context.Context, core.RewardRedemption) error {
	return errInsertFailed
}

func TestRedeemRollsBackDebitWhenInsertFails(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		l, _ := setup(t, st, 5)
		storetest.AddReward(t, st, "fam", "treat", 4)
		w := New(brokenInsertStore{st}, l)

		if _, err := w.Redeem(ctx, "mia", "treat"); !errors.Is(err, errInsertFailed) {
			t.Fatalf("expected insert failure, got %v", err)
		}

		bal, err := l.Balance(ctx, "mia")
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 5 {
			t.Fatalf("balance = %d, want 5 after rollback", bal)
		}
		recs, err := l.History(ctx, "mia", ledger.Range{})
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		for _, rec := range recs {
			if rec.Kind == core.KindRedeem {
				t.Fatalf("debit survived the failed insert: %+v", rec)
			}
		}
		list, err := w.List(ctx, Filter{ChildID: "mia"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 0 {
			t.Fatalf("redemption recorded: %+v", list)
		}
	})
}

func TestConcurrentRedemptionsExactlyOneSucceeds(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		// 0 <= B < 2C
		l, w := setup(t, st, 7)
		storetest.AddReward(t, st, "fam", "movie", 5)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := w.Redeem(ctx, "mia", "movie")
				if err != nil && !errors.Is(err, core.ErrInsufficientBalance) {
					t.Errorf("unexpected error: %v", err)
				}
				if err == nil {
					mu.Lock()
					success++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if success != 1 {
			t.Fatalf("%d redemptions succeeded, want 1", success)
		}
		if bal, _ := l.Balance(ctx, "mia"); bal != 2 {
			t.Fatalf("balance = %d, want 2", bal)
		}
	})
}

func TestFulfill(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		l, w := setup(t, st, 5)
		storetest.AddReward(t, st, "fam", "treat", 5)
		r, err := w.Redeem(ctx, "mia", "treat")
		if err != nil {
			t.Fatalf("redeem: %v", err)
		}

		done, err := w.Fulfill(ctx, r.ID)
		if err != nil {
			t.Fatalf("fulfill: %v", err)
		}
		if done.Status != core.RedemptionFulfilled || done.FulfilledAt.IsZero() {
			t.Fatalf("unexpected fulfilled redemption %+v", done)
		}
		if _, err := w.Fulfill(ctx, r.ID); !errors.Is(err, core.ErrAlreadyFulfilled) {
			t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
		}
		if _, err := w.Fulfill(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if bal, _ := l.Balance(ctx, "mia"); bal != 0 {
			t.Fatalf("balance = %d after fulfilment, want 0", bal)
		}
		hist, _ := l.History(ctx, "mia", ledger.Range{})
		if len(hist) != 2 {
			t.Fatalf("fulfilment touched the ledger: %d records", len(hist))
		}

		got, _ := w.Get(ctx, r.ID)
		if got.Status != core.RedemptionFulfilled {
			t.Fatalf("stored status %s", got.Status)
		}
		pending, _ := w.List(ctx, Filter{FamilyID: "fam", Status: core.RedemptionPending})
		if len(pending) != 0 {
			t.Fatalf("unexpected pending redemptions %+v", pending)
		}
	})
}
