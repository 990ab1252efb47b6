// Package engine wires the ledger, the catalog and the three workflows to
// one store. Callers build an Engine once at startup and share it.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"stars/internal/cache"
	"stars/internal/catalog"
	"stars/internal/core"
	"stars/internal/ledger"
	"stars/internal/proposal"
	"stars/internal/redemption"
	"stars/internal/report"
	"stars/internal/store"
	"stars/internal/submission"
)

type Engine struct {
	Store       store.Store
	Catalog     *catalog.Catalog
	Ledger      *ledger.Ledger
	Submissions *submission.Workflow
	Proposals   *proposal.Workflow
	Redemptions *redemption.Workflow
	Reports     report.Source

	cached *report.Cached
}

type options struct {
	now         func() time.Time
	newID       func() string
	loc         *time.Location
	reportCache cache.Cache[core.Report]
	materialize bool
}

type Option func(*options)

// WithClock sets the time source shared by every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDs sets the id generator shared by every component.
func WithIDs(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithLocation sets the zone reports cut calendar days in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// WithReportCache memoises reports in c. Call Start so ledger changes
// evict stale entries.
func WithReportCache(c cache.Cache[core.Report]) Option {
	return func(o *options) { o.reportCache = c }
}

// WithoutTemplateMaterialization stops approved proposals from creating
// task templates.
func WithoutTemplateMaterialization() Option {
	return func(o *options) { o.materialize = false }
}

func New(st store.Store, opts ...Option) *Engine {
	o := options{
		now:         time.Now,
		newID:       uuid.NewString,
		loc:         time.UTC,
		materialize: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	l := ledger.New(st, ledger.WithClock(o.now), ledger.WithIDs(o.newID))
	reporter := report.New(st, report.WithLocation(o.loc))

	e := &Engine{
		Store:   st,
		Catalog: catalog.New(st, catalog.WithClock(o.now), catalog.WithIDs(o.newID)),
		Ledger:  l,
		Submissions: submission.New(st, l,
			submission.WithClock(o.now), submission.WithIDs(o.newID)),
		Proposals: proposal.New(st,
			proposal.WithClock(o.now), proposal.WithIDs(o.newID), proposal.WithMaterializeTemplates(o.materialize)),
		Redemptions: redemption.New(st, l,
			redemption.WithClock(o.now), redemption.WithIDs(o.newID)),
		Reports: reporter,
	}
	if o.reportCache != nil {
		e.cached = report.NewCached(reporter, st, o.reportCache)
		e.Reports = e.cached
	}
	return e
}

// Start begins evicting cached reports on ledger changes. It returns once
// the subscription is in place and is a no-op without a report cache.
func (e *Engine) Start(ctx context.Context) error {
	if e.cached == nil {
		return nil
	}
	return e.cached.Start(ctx)
}

// Balance is a shortcut for e.Ledger.Balance.
func (e *Engine) Balance(ctx context.Context, childID string) (int64, error) {
	return e.Ledger.Balance(ctx, childID)
}
