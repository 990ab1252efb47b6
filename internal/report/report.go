// Package report builds read-only summaries of a child's ledger.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stars/internal/core"
	"stars/internal/store"
)

var ErrInvalidWindow = errors.New("report window end is before its start")

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidWindow)
	}
	if w.To.Before(w.From) {
		return ErrInvalidWindow
	}
	return nil
}

// Source produces reports. Reporter and Cached both satisfy it.
type Source interface {
	Summarize(ctx context.Context, childID string, w Window) (core.Report, error)
	Weekly(ctx context.Context, childID string, weekStart time.Time) (core.Report, error)
}

type Reporter struct {
	store store.Store
	loc   *time.Location
}

type Option func(*Reporter)

// WithLocation sets the zone calendar days are cut in. UTC by default.
func WithLocation(loc *time.Location) Option {
	return func(r *Reporter) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func New(st store.Store, opts ...Option) *Reporter {
	r := &Reporter{store: st, loc: time.UTC}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) Location() *time.Location { return r.loc }

// Summarize totals the child's ledger over w. The window is half-open: a
// record stamped exactly at w.To is left out, so pass the start of the next
// day rather than an inclusive end of day. Earn records are bucketed by the
// category of the submission that produced them, or uncategorized when that
// submission cannot be found. All reads share one snapshot.
func (r *Reporter) Summarize(ctx context.Context, childID string, w Window) (core.Report, error) {
	if err := w.Validate(); err != nil {
		return core.Report{}, err
	}
	rep := core.Report{ChildID: childID, From: w.From, To: w.To}

	err := r.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetChild(ctx, childID); err != nil {
			return err
		}
		recs, err := tx.ListTransactions(ctx, store.TransactionQuery{ChildID: childID, From: w.From, To: w.To})
		if err != nil {
			return err
		}

		byCategory := make(map[core.Category]int64)
		byDay := make(map[time.Time]int64)
		for _, rec := range recs {
			if rec.Kind == core.KindRedeem {
				rep.Redeemed += rec.Amount
				continue
			}
			rep.Earned += rec.Amount
			rep.EarnCount++

			category, err := r.categoryOf(ctx, tx, rec)
			if err != nil {
				return err
			}
			byCategory[category] += rec.Amount
			byDay[r.day(rec.CreatedAt)] += rec.Amount
		}
		rep.ByCategory = categoryTotals(byCategory)
		rep.ByDay = dayTotals(byDay)
		return nil
	})
	if err != nil {
		return core.Report{}, fmt.Errorf("summarize %s: %w", childID, err)
	}
	return rep, nil
}

// Weekly summarises the seven days starting at midnight of weekStart's day.
func (r *Reporter) Weekly(ctx context.Context, childID string, weekStart time.Time) (core.Report, error) {
	from := r.day(weekStart)
	return r.Summarize(ctx, childID, Window{From: from, To: from.AddDate(0, 0, 7)})
}

func (r *Reporter) categoryOf(ctx context.Context, tx store.Tx, rec core.StarTransaction) (core.Category, error) {
	if rec.SourceSubmissionID == "" {
		return core.CategoryUncategorized, nil
	}
	s, err := tx.GetSubmission(ctx, rec.SourceSubmissionID)
	if errors.Is(err, core.ErrNotFound) {
		return core.CategoryUncategorized, nil
	}
	if err != nil {
		return "", err
	}
	if s.Category.Validate() != nil {
		return core.CategoryUncategorized, nil
	}
	return s.Category, nil
}

func (r *Reporter) day(t time.Time) time.Time {
	t = t.In(r.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
}

func categoryTotals(m map[core.Category]int64) []core.CategoryTotal {
	out := []core.CategoryTotal{}
	for _, c := range append(core.Categories(), core.CategoryUncategorized) {
		if stars, ok := m[c]; ok {
			out = append(out, core.CategoryTotal{Category: c, Stars: stars})
		}
	}
	return out
}

func dayTotals(m map[time.Time]int64) []core.DayTotal {
	out := make([]core.DayTotal, 0, len(m))
	for day, stars := range m {
		out = append(out, core.DayTotal{Day: day, Stars: stars})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}
