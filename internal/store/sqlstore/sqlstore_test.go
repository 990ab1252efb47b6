package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"stars/internal/core"
	"stars/internal/store"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stars.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func update(t *testing.T, s *Store, fn func(store.Tx) error) {
	t.Helper()
	if err := s.Update(context.Background(), fn); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected empty path error")
	}
	if _, err := OpenPostgres(context.Background(), " "); err == nil {
		t.Fatal("expected empty url error")
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?`
	if got := SQLite.rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	want := `SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3`
	if got := Postgres.rebind(q); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stars.db")
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	update(t, s, func(tx store.Tx) error {
		return tx.InsertChild(ctx, core.Child{ID: "mia", FamilyID: "fam", Name: "Mia", CreatedAt: now})
	})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	_ = s.View(ctx, func(tx store.Tx) error {
		c, err := tx.GetChild(ctx, "mia")
		if err != nil {
			t.Fatalf("get child: %v", err)
		}
		if !c.CreatedAt.Equal(now) || c.Name != "Mia" {
			t.Fatalf("unexpected child %+v", c)
		}
		return nil
	})
}

func TestTransactionsSeqSumAndRange(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	update(t, s, func(tx store.Tx) error {
		txns := []core.StarTransaction{
			{ID: "t1", ChildID: "mia", FamilyID: "fam", Kind: core.KindEarn, Amount: 5, Description: "dishes", SourceSubmissionID: "s1", CreatedAt: day.Add(time.Hour)},
			{ID: "t2", ChildID: "mia", FamilyID: "fam", Kind: core.KindEarn, Amount: 3, Description: "reading", SourceSubmissionID: "s2", CreatedAt: day.Add(25 * time.Hour)},
			{ID: "t3", ChildID: "mia", FamilyID: "fam", Kind: core.KindRedeem, Amount: 4, Description: "ice cream", SourceRewardID: "r1", CreatedAt: day.Add(26 * time.Hour)},
			{ID: "t4", ChildID: "leo", FamilyID: "fam", Kind: core.KindEarn, Amount: 9, Description: "room", SourceSubmissionID: "s3", CreatedAt: day},
		}
		var last int64
		for _, st := range txns {
			got, err := tx.InsertTransaction(ctx, st)
			if err != nil {
				return err
			}
			if got.Seq <= last {
				t.Fatalf("seq %d not after %d", got.Seq, last)
			}
			last = got.Seq
		}
		return nil
	})

	_ = s.View(ctx, func(tx store.Tx) error {
		earned, redeemed, err := tx.SumTransactions(ctx, "mia")
		if err != nil {
			t.Fatalf("sum: %v", err)
		}
		if earned != 8 || redeemed != 4 {
			t.Fatalf("earned=%d redeemed=%d, want 8 and 4", earned, redeemed)
		}

		first, err := tx.ListTransactions(ctx, store.TransactionQuery{ChildID: "mia", From: day, To: day.Add(24 * time.Hour)})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(first) != 1 || first[0].ID != "t1" {
			t.Fatalf("unexpected first-day ledger %+v", first)
		}

		earns, _ := tx.ListTransactions(ctx, store.TransactionQuery{FamilyID: "fam", Kind: core.KindEarn, Limit: 2})
		if len(earns) != 2 || earns[0].ID != "t1" || earns[1].ID != "t2" {
			t.Fatalf("unexpected earns %+v", earns)
		}

		after, _ := tx.ListTransactions(ctx, store.TransactionQuery{AfterSeq: earns[1].Seq})
		if len(after) != 2 {
			t.Fatalf("expected 2 records after seq %d, got %d", earns[1].Seq, len(after))
		}

		got, err := tx.EarnBySubmission(ctx, "s2")
		if err != nil || got.ID != "t2" {
			t.Fatalf("earn by submission = %+v, %v", got, err)
		}
		if _, err := tx.EarnBySubmission(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
}

func TestDuplicateEarnRejectedByIndex(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	earn := func(id string) core.StarTransaction {
		return core.StarTransaction{ID: id, ChildID: "mia", FamilyID: "fam", Kind: core.KindEarn,
			Amount: 2, Description: "x", SourceSubmissionID: "s1", CreatedAt: time.Now()}
	}
	update(t, s, func(tx store.Tx) error {
		_, err := tx.InsertTransaction(ctx, earn("t1"))
		return err
	})
	err := s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.InsertTransaction(ctx, earn("t2"))
		return err
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestUpdateRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertChild(ctx, core.Child{ID: "mia", FamilyID: "fam", Name: "Mia", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetChild(ctx, "mia"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("rolled back child is visible: %v", err)
		}
		return nil
	})
}

func TestViewRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	err := s.View(ctx, func(tx store.Tx) error {
		return tx.InsertChild(ctx, core.Child{ID: "mia", FamilyID: "fam", Name: "Mia"})
	})
	if !errors.Is(err, errReadOnly) {
		t.Fatalf("expected errReadOnly, got %v", err)
	}
}

func TestSubmissionCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	created := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	sub := core.TaskSubmission{
		ID: "s1", TemplateID: "dishes", TemplateName: "Do the dishes", FamilyID: "fam", ChildID: "mia",
		Status: core.SubmissionSubmitted, Stars: 3, Category: core.CategoryChore,
		Reflection: "all clean", CreatedAt: created, SubmittedAt: created,
	}
	update(t, s, func(tx store.Tx) error { return tx.InsertSubmission(ctx, sub) })

	_ = s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetSubmission(ctx, "s1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.ReviewedAt.IsZero() {
			t.Fatalf("reviewed_at should be zero, got %v", got.ReviewedAt)
		}
		if got.TemplateName != sub.TemplateName || got.Category != core.CategoryChore {
			t.Fatalf("unexpected submission %+v", got)
		}
		return nil
	})

	approved := sub
	approved.Status = core.SubmissionApproved
	approved.ReviewedBy = "parent"
	approved.ReviewedAt = created.Add(time.Hour)
	update(t, s, func(tx store.Tx) error {
		return tx.UpdateSubmission(ctx, approved, core.SubmissionSubmitted)
	})

	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateSubmission(ctx, approved, core.SubmissionSubmitted)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	missing := approved
	missing.ID = "nope"
	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateSubmission(ctx, missing, core.SubmissionSubmitted)
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = s.View(ctx, func(tx store.Tx) error {
		list, _ := tx.ListSubmissions(ctx, store.Query{FamilyID: "fam", Status: string(core.SubmissionApproved)})
		if len(list) != 1 || list[0].ReviewedBy != "parent" || !list[0].ReviewedAt.Equal(approved.ReviewedAt) {
			t.Fatalf("unexpected approved list %+v", list)
		}
		referenced, _ := tx.TemplateReferenced(ctx, "dishes")
		if !referenced {
			t.Fatalf("template should be referenced")
		}
		return nil
	})
}

func TestProposalAgreedStarsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	p := core.TaskProposal{
		ID: "p1", FamilyID: "fam", ChildID: "mia", Name: "Water the plants",
		Category: core.CategoryChore, SuggestedStars: 4, Status: core.ProposalPending,
		CreatedAt: time.Now().UTC(),
	}
	update(t, s, func(tx store.Tx) error { return tx.InsertProposal(ctx, p) })

	agreed := int64(3)
	p.Status = core.ProposalDiscussion
	p.ParentComment = "how about 3?"
	p.AgreedStars = &agreed
	p.DiscussedAt = time.Now().UTC()
	update(t, s, func(tx store.Tx) error { return tx.UpdateProposal(ctx, p, core.ProposalPending) })

	_ = s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetProposal(ctx, "p1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.AgreedStars == nil || *got.AgreedStars != 3 {
			t.Fatalf("agreed stars not stored: %+v", got.AgreedStars)
		}
		if got.Status != core.ProposalDiscussion || !got.DecidedAt.IsZero() {
			t.Fatalf("unexpected proposal %+v", got)
		}
		return nil
	})
}

func TestCatalogListingAndArchive(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	now := time.Now().UTC()
	update(t, s, func(tx store.Tx) error {
		for _, tt := range []core.TaskTemplate{
			{ID: "b", FamilyID: "fam", Name: "Bed", Category: core.CategoryChore, Stars: 1, Active: true, CreatedAt: now, UpdatedAt: now},
			{ID: "a", FamilyID: "fam", Name: "Algebra", Category: core.CategoryStudy, Stars: 4, Active: false, CreatedAt: now, UpdatedAt: now},
			{ID: "x", FamilyID: "other", Name: "Other", Category: core.CategoryOther, Stars: 1, Active: true, CreatedAt: now, UpdatedAt: now},
		} {
			if err := tx.InsertTemplate(ctx, tt); err != nil {
				return err
			}
		}
		for _, r := range []core.Reward{
			{ID: "movie", FamilyID: "fam", Name: "Movie", Cost: 15, Active: true, CreatedAt: now, UpdatedAt: now},
			{ID: "sweet", FamilyID: "fam", Name: "Sweet", Cost: 2, Active: true, CreatedAt: now, UpdatedAt: now},
		} {
			if err := tx.InsertReward(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})

	_ = s.View(ctx, func(tx store.Tx) error {
		all, _ := tx.ListTemplates(ctx, "fam", false)
		if len(all) != 2 || all[0].ID != "a" {
			t.Fatalf("templates not ordered by name: %+v", all)
		}
		active, _ := tx.ListTemplates(ctx, "fam", true)
		if len(active) != 1 || active[0].ID != "b" {
			t.Fatalf("unexpected active templates %+v", active)
		}
		rewards, _ := tx.ListRewards(ctx, "fam", true)
		if len(rewards) != 2 || rewards[0].ID != "sweet" {
			t.Fatalf("rewards not ordered by cost: %+v", rewards)
		}
		return nil
	})

	update(t, s, func(tx store.Tx) error {
		r, err := tx.GetReward(ctx, "movie")
		if err != nil {
			return err
		}
		r.Active = false
		if err := tx.UpdateReward(ctx, r); err != nil {
			return err
		}
		return tx.DeleteTemplate(ctx, "a")
	})

	_ = s.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTemplate(ctx, "a"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("deleted template still present: %v", err)
		}
		rewards, _ := tx.ListRewards(ctx, "fam", true)
		if len(rewards) != 1 {
			t.Fatalf("archived reward still listed as active: %+v", rewards)
		}
		return nil
	})

	err := s.Update(ctx, func(tx store.Tx) error { return tx.DeleteReward(ctx, "nope") })
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedemptionFulfilledAt(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	r := core.RewardRedemption{
		ID: "red1", RewardID: "sweet", RewardName: "Sweet", ChildID: "mia", FamilyID: "fam",
		StarsSpent: 2, Status: core.RedemptionPending, TransactionID: "t9", RedeemedAt: time.Now().UTC(),
	}
	update(t, s, func(tx store.Tx) error { return tx.InsertRedemption(ctx, r) })

	r.Status = core.RedemptionFulfilled
	r.FulfilledAt = time.Now().UTC()
	update(t, s, func(tx store.Tx) error { return tx.UpdateRedemption(ctx, r, core.RedemptionPending) })

	_ = s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetRedemption(ctx, "red1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != core.RedemptionFulfilled || got.FulfilledAt.IsZero() {
			t.Fatalf("unexpected redemption %+v", got)
		}
		referenced, _ := tx.RewardReferenced(ctx, "sweet")
		if !referenced {
			t.Fatalf("reward should be referenced")
		}
		return nil
	})
}

func TestExportsTracking(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	update(t, s, func(tx store.Tx) error {
		for i, id := range []string{"t1", "t2", "t3"} {
			_, err := tx.InsertTransaction(ctx, core.StarTransaction{
				ID: id, ChildID: "mia", FamilyID: "fam", Kind: core.KindEarn, Amount: int64(i + 1),
				Description: "task", SourceSubmissionID: "s" + id, CreatedAt: time.Now(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err := s.MarkExported(ctx, "t1", time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkExported(ctx, "t1", time.Now()); err != nil {
		t.Fatalf("mark twice: %v", err)
	}
	pending, err := s.PendingExports(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "t2" || pending[1].ID != "t3" {
		t.Fatalf("unexpected pending %+v", pending)
	}
	ok, _ := s.Exported(ctx, "t1")
	if !ok {
		t.Fatalf("t1 should be exported")
	}
}

func TestSubscribeAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := openTempStore(t)
	ch, err := s.Subscribe(ctx, store.Filter{Entities: []store.Entity{store.EntityChild}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	update(t, s, func(tx store.Tx) error {
		return tx.InsertChild(ctx, core.Child{ID: "mia", FamilyID: "fam", Name: "Mia", CreatedAt: time.Now()})
	})
	select {
	case c := <-ch:
		if c.ID != "mia" || c.Op != store.OpCreate {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
}
