package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stars/internal/core"
	"stars/internal/store"
)

func earn(id, child, submission string, amount int64) core.StarTransaction {
	return core.StarTransaction{
		ID: id, ChildID: child, FamilyID: "f1", Kind: core.KindEarn,
		Amount: amount, Description: "task", SourceSubmissionID: submission,
		CreatedAt: time.Now().UTC(),
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertTransaction(ctx, earn("t1", "c1", "s1", 5)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = s.View(ctx, func(tx store.Tx) error {
		earned, _, err := tx.SumTransactions(ctx, "c1")
		if err != nil {
			return err
		}
		if earned != 0 {
			t.Fatalf("rolled back write is visible: earned=%d", earned)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRolledBackAppendDoesNotLeakIntoLaterCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.InsertTransaction(ctx, earn("t1", "c1", "s1", 1))
		return err
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_ = s.Update(ctx, func(tx store.Tx) error {
		_, _ = tx.InsertTransaction(ctx, earn("t2", "c1", "s2", 10))
		return errors.New("abort")
	})

	if err := s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.InsertTransaction(ctx, earn("t3", "c1", "s3", 2))
		return err
	}); err != nil {
		t.Fatalf("third insert: %v", err)
	}

	_ = s.View(ctx, func(tx store.Tx) error {
		list, _ := tx.ListTransactions(ctx, store.TransactionQuery{ChildID: "c1"})
		if len(list) != 2 || list[0].ID != "t1" || list[1].ID != "t3" {
			t.Fatalf("unexpected ledger: %+v", list)
		}
		if list[0].Seq >= list[1].Seq {
			t.Fatalf("seq not increasing: %d, %d", list[0].Seq, list[1].Seq)
		}
		return nil
	})
}

func TestDuplicateEarnForSubmission(t *testing.T) {
	ctx := context.Background()
	s := New()
	insert := func(id string) error {
		return s.Update(ctx, func(tx store.Tx) error {
			_, err := tx.InsertTransaction(ctx, earn(id, "c1", "s1", 5))
			return err
		})
	}
	if err := insert("t1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := insert("t2"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCompareAndSwapSubmission(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub := core.TaskSubmission{
		ID: "s1", TemplateID: "t1", FamilyID: "f1", ChildID: "c1",
		Status: core.SubmissionSubmitted, Stars: 3, Category: core.CategoryChore,
	}
	if err := s.Update(ctx, func(tx store.Tx) error { return tx.InsertSubmission(ctx, sub) }); err != nil {
		t.Fatalf("insert: %v", err)
	}

	approved := sub
	approved.Status = core.SubmissionApproved
	if err := s.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateSubmission(ctx, approved, core.SubmissionSubmitted)
	}); err != nil {
		t.Fatalf("cas: %v", err)
	}

	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateSubmission(ctx, approved, core.SubmissionSubmitted)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.View(ctx, func(tx store.Tx) error {
		return tx.InsertChild(ctx, core.Child{ID: "c", FamilyID: "f", Name: "x"})
	})
	if err == nil {
		t.Fatalf("expected write in view to fail")
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetChild(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := tx.EarnBySubmission(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
}

func TestSubscribeSeesOnlyCommittedChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()
	ch, err := s.Subscribe(ctx, store.Filter{FamilyID: "f1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = s.Update(ctx, func(tx store.Tx) error {
		_ = tx.InsertChild(ctx, core.Child{ID: "rolled", FamilyID: "f1", Name: "x"})
		return errors.New("abort")
	})
	if err := s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertChild(ctx, core.Child{ID: "kept", FamilyID: "f1", Name: "y"})
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	select {
	case c := <-ch:
		if c.ID != "kept" || c.Entity != store.EntityChild || c.Op != store.OpCreate {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatalf("no change received")
	}
}

func TestNewFromFileSeedsAndDefaults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Missing file -> defaults
	s, err := NewFromFile(ctx, filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		kids, _ := tx.ListChildren(ctx, "demo")
		if len(kids) == 0 {
			t.Fatalf("expected default children")
		}
		return nil
	})

	path := filepath.Join(dir, "seed.toml")
	content := `
[[children]]
id = "ann"
family_id = "fam"
name = "Ann"

[[templates]]
id = "bed"
family_id = "fam"
name = "Make the bed"
category = "chore"
stars = 2

[[templates]]
id = "old"
family_id = "fam"
name = "Old task"
stars = 1
inactive = true

[[rewards]]
id = "park"
family_id = "fam"
name = "Trip to the park"
cost = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	s, err = NewFromFile(ctx, path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		active, _ := tx.ListTemplates(ctx, "fam", true)
		all, _ := tx.ListTemplates(ctx, "fam", false)
		if len(active) != 1 || len(all) != 2 {
			t.Fatalf("unexpected templates active=%d all=%d", len(active), len(all))
		}
		if all[1].Category != core.CategoryOther {
			t.Fatalf("empty category should map to other, got %q", all[1].Category)
		}
		rewards, _ := tx.ListRewards(ctx, "fam", true)
		if len(rewards) != 1 || rewards[0].Cost != 4 {
			t.Fatalf("unexpected rewards: %+v", rewards)
		}
		return nil
	})

	// Applying twice is a no-op.
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := seed.Apply(ctx, s); err != nil {
		t.Fatalf("reapply: %v", err)
	}
}

func TestLoadSeedRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[[children]]\nid = \"a\"\ncolour = \"red\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeed(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
