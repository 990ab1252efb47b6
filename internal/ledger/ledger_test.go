package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stars/internal/core"
	"stars/internal/store"
	"stars/internal/store/memory"
	"stars/internal/store/storetest"
)

var base = storetest.Base

func addChild(t *testing.T, st store.Store, id string) {
	t.Helper()
	storetest.AddChild(t, st, "fam", id)
}

func TestEarnIsIdempotentPerSubmission(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		addChild(t, st, "mia")
		l := New(st)

		if _, err := l.AppendEarn(ctx, "mia", 5, "Do the dishes", "sub-1"); err != nil {
			t.Fatalf("first earn: %v", err)
		}
		_, err := l.AppendEarn(ctx, "mia", 5, "Do the dishes", "sub-1")
		if !errors.Is(err, core.ErrDuplicateCredit) {
			t.Fatalf("expected ErrDuplicateCredit, got %v", err)
		}
		if !core.IsIdempotent(err) {
			t.Fatalf("duplicate credit should be idempotent")
		}

		bal, err := l.Balance(ctx, "mia")
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 5 {
			t.Fatalf("balance = %d, want 5", bal)
		}
	})
}

func TestRedeemRequiresBalance(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		addChild(t, st, "mia")
		l := New(st)

		if _, err := l.AppendEarn(ctx, "mia", 4, "Reading", "sub-1"); err != nil {
			t.Fatalf("earn: %v", err)
		}

		_, err := l.AppendRedeem(ctx, "mia", 5, "Ice cream", "ice-cream")
		var insufficient *core.InsufficientBalanceError
		if !errors.As(err, &insufficient) {
			t.Fatalf("expected InsufficientBalanceError, got %v", err)
		}
		if insufficient.Balance != 4 || insufficient.Requested != 5 {
			t.Fatalf("unexpected error payload %+v", insufficient)
		}

		if _, err := l.AppendRedeem(ctx, "mia", 4, "Ice cream", "ice-cream"); err != nil {
			t.Fatalf("redeem exact balance: %v", err)
		}
		bal, _ := l.Balance(ctx, "mia")
		if bal != 0 {
			t.Fatalf("balance = %d, want 0", bal)
		}
	})
}

func TestConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		addChild(t, st, "mia")
		l := New(st)
		if _, err := l.AppendEarn(ctx, "mia", 5, "Tidy room", "sub-1"); err != nil {
			t.Fatalf("earn: %v", err)
		}

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			denied    int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.AppendRedeem(ctx, "mia", 5, "Movie", "movie")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, core.ErrInsufficientBalance):
					denied++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if succeeded != 1 || denied != workers-1 {
			t.Fatalf("succeeded=%d denied=%d, want 1 and %d", succeeded, denied, workers-1)
		}
		bal, _ := l.Balance(ctx, "mia")
		if bal != 0 {
			t.Fatalf("balance = %d, want 0", bal)
		}
	})
}

func TestBalanceEqualsSumOfHistory(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		addChild(t, st, "mia")
		addChild(t, st, "leo")
		l := New(st, WithClock(storetest.Clock()))

		steps := []struct {
			child  string
			earn   bool
			amount int64
		}{
			{"mia", true, 3},
			{"leo", true, 7},
			{"mia", true, 2},
			{"mia", false, 4},
			{"leo", false, 1},
			{"mia", true, 6},
		}
		for i, s := range steps {
			var err error
			if s.earn {
				_, err = l.AppendEarn(ctx, s.child, s.amount, "task", fmt.Sprintf("sub-%d", i))
			} else {
				_, err = l.AppendRedeem(ctx, s.child, s.amount, "reward", "reward-1")
			}
			if err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}

		for _, child := range []string{"mia", "leo"} {
			hist, err := l.History(ctx, child, Range{})
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			var sum int64
			for i, rec := range hist {
				sum += rec.Signed()
				if i > 0 && rec.Seq <= hist[i-1].Seq {
					t.Fatalf("history not in insertion order")
				}
			}
			bal, _ := l.Balance(ctx, child)
			if bal != sum || bal < 0 {
				t.Fatalf("%s: balance %d, history sum %d", child, bal, sum)
			}
		}
	})
}

func TestHistoryRange(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		addChild(t, st, "mia")
		l := New(st, WithClock(storetest.Clock()))
		for i := 0; i < 4; i++ {
			if _, err := l.AppendEarn(ctx, "mia", 1, "task", fmt.Sprintf("sub-%d", i)); err != nil {
				t.Fatalf("earn: %v", err)
			}
		}
		// Records are stamped base+1m .. base+4m.
		hist, err := l.History(ctx, "mia", Range{From: base.Add(2 * time.Minute), To: base.Add(4 * time.Minute)})
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) != 2 {
			t.Fatalf("expected 2 records in range, got %d", len(hist))
		}
	})
}

func TestUnknownChild(t *testing.T) {
	ctx := context.Background()
	l := New(memory.New())
	if _, err := l.Balance(ctx, "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("balance: expected ErrNotFound, got %v", err)
	}
	if _, err := l.AppendEarn(ctx, "ghost", 1, "x", "sub"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("earn: expected ErrNotFound, got %v", err)
	}
	if _, err := l.History(ctx, "ghost", Range{}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("history: expected ErrNotFound, got %v", err)
	}
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	addChild(t, st, "mia")
	l := New(st)
	for _, amount := range []int64{0, -3} {
		if _, err := l.AppendEarn(ctx, "mia", amount, "x", "sub"); !errors.Is(err, core.ErrInvalidStars) {
			t.Errorf("earn %d: expected ErrInvalidStars, got %v", amount, err)
		}
		if _, err := l.AppendRedeem(ctx, "mia", amount, "x", "reward"); !errors.Is(err, core.ErrInvalidStars) {
			t.Errorf("redeem %d: expected ErrInvalidStars, got %v", amount, err)
		}
	}
}

func TestFailedTransactionLeavesLedgerUnchanged(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		addChild(t, st, "mia")
		l := New(st)
		boom := errors.New("later step failed")

		err := st.Update(ctx, func(tx store.Tx) error {
			if _, err := l.EarnTx(ctx, tx, "mia", 9, "task", "sub-1"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		bal, _ := l.Balance(ctx, "mia")
		if bal != 0 {
			t.Fatalf("balance = %d after rollback, want 0", bal)
		}
		// The submission can still be credited once the retry succeeds.
		if _, err := l.AppendEarn(ctx, "mia", 9, "task", "sub-1"); err != nil {
			t.Fatalf("retry earn: %v", err)
		}
	})
}
