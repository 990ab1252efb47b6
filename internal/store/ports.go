// Package store defines the persistence capability the ledger and workflow
// packages are written against. Concrete backends live in store/memory and
// store/sqlstore and are chosen once at startup.
package store

import (
	"context"
	"errors"
	"time"

	"stars/internal/core"
)

var (
	// ErrConflict is returned by compare-and-swap updates when the stored
	// status no longer matches the expected one.
	ErrConflict = errors.New("store: concurrent modification")

	// ErrDuplicate is returned when a unique key (id, or the source
	// submission of an earn transaction) already exists.
	ErrDuplicate = errors.New("store: duplicate key")

	ErrClosed = errors.New("store: closed")
)

// Ports. A Tx is only valid inside the callback it was handed to.
type (
	LedgerTx interface {
		// InsertTransaction appends t and returns it with Seq assigned.
		InsertTransaction(ctx context.Context, t core.StarTransaction) (core.StarTransaction, error)
		GetTransaction(ctx context.Context, id string) (core.StarTransaction, error)
		// EarnBySubmission returns the earn transaction linked to a
		// submission, or core.ErrNotFound.
		EarnBySubmission(ctx context.Context, submissionID string) (core.StarTransaction, error)
		SumTransactions(ctx context.Context, childID string) (earned, redeemed int64, err error)
		ListTransactions(ctx context.Context, q TransactionQuery) ([]core.StarTransaction, error)
	}

	CatalogTx interface {
		InsertChild(ctx context.Context, c core.Child) error
		GetChild(ctx context.Context, id string) (core.Child, error)
		ListChildren(ctx context.Context, familyID string) ([]core.Child, error)
		// LockChild serialises writers on one child's ledger for the rest
		// of the transaction.
		LockChild(ctx context.Context, id string) (core.Child, error)

		InsertTemplate(ctx context.Context, t core.TaskTemplate) error
		UpdateTemplate(ctx context.Context, t core.TaskTemplate) error
		DeleteTemplate(ctx context.Context, id string) error
		GetTemplate(ctx context.Context, id string) (core.TaskTemplate, error)
		ListTemplates(ctx context.Context, familyID string, activeOnly bool) ([]core.TaskTemplate, error)
		TemplateReferenced(ctx context.Context, id string) (bool, error)

		InsertReward(ctx context.Context, r core.Reward) error
		UpdateReward(ctx context.Context, r core.Reward) error
		DeleteReward(ctx context.Context, id string) error
		GetReward(ctx context.Context, id string) (core.Reward, error)
		ListRewards(ctx context.Context, familyID string, activeOnly bool) ([]core.Reward, error)
		RewardReferenced(ctx context.Context, id string) (bool, error)
	}

	WorkflowTx interface {
		InsertSubmission(ctx context.Context, s core.TaskSubmission) error
		// UpdateSubmission writes s only if the stored status equals
		// expected, otherwise ErrConflict.
		UpdateSubmission(ctx context.Context, s core.TaskSubmission, expected core.SubmissionStatus) error
		GetSubmission(ctx context.Context, id string) (core.TaskSubmission, error)
		ListSubmissions(ctx context.Context, q Query) ([]core.TaskSubmission, error)

		InsertProposal(ctx context.Context, p core.TaskProposal) error
		UpdateProposal(ctx context.Context, p core.TaskProposal, expected core.ProposalStatus) error
		GetProposal(ctx context.Context, id string) (core.TaskProposal, error)
		ListProposals(ctx context.Context, q Query) ([]core.TaskProposal, error)

		InsertRedemption(ctx context.Context, r core.RewardRedemption) error
		UpdateRedemption(ctx context.Context, r core.RewardRedemption, expected core.RedemptionStatus) error
		GetRedemption(ctx context.Context, id string) (core.RewardRedemption, error)
		ListRedemptions(ctx context.Context, q Query) ([]core.RewardRedemption, error)
	}

	Tx interface {
		LedgerTx
		CatalogTx
		WorkflowTx
	}

	// Store is the persistence capability. Update runs fn in a serialised
	// read-write transaction that commits only if fn returns nil; View runs
	// fn against a consistent point-in-time snapshot.
	Store interface {
		Update(ctx context.Context, fn func(Tx) error) error
		View(ctx context.Context, fn func(Tx) error) error
		// Subscribe pushes a Change for every committed write matching f
		// until ctx is done.
		Subscribe(ctx context.Context, f Filter) (<-chan Change, error)
		Close() error
	}

	// ExportTracker records which ledger records have reached an external
	// sink. Both backends implement it next to Store.
	ExportTracker interface {
		PendingExports(ctx context.Context, limit int) ([]core.StarTransaction, error)
		MarkExported(ctx context.Context, transactionID string, at time.Time) error
		Exported(ctx context.Context, transactionID string) (bool, error)
	}
)

// TransactionQuery selects ledger records. Zero fields do not filter;
// From/To form the half-open range [From, To).
type TransactionQuery struct {
	ChildID  string
	FamilyID string
	Kind     core.TransactionKind
	From     time.Time
	To       time.Time
	AfterSeq int64
	Limit    int
}

// Query filters workflow entities. Status is compared as a string so one
// type serves all three workflows.
type Query struct {
	FamilyID string
	ChildID  string
	Status   string
	Limit    int
}

// InRange reports whether at falls inside [From, To).
func (q TransactionQuery) InRange(at time.Time) bool {
	if !q.From.IsZero() && at.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !at.Before(q.To) {
		return false
	}
	return true
}

// Match reports whether t satisfies every non-zero field of q except Limit.
func (q TransactionQuery) Match(t core.StarTransaction) bool {
	if q.ChildID != "" && t.ChildID != q.ChildID {
		return false
	}
	if q.FamilyID != "" && t.FamilyID != q.FamilyID {
		return false
	}
	if q.Kind != "" && t.Kind != q.Kind {
		return false
	}
	if t.Seq <= q.AfterSeq {
		return false
	}
	return q.InRange(t.CreatedAt)
}

// Match reports whether an entity with the given scope and status
// satisfies q.
func (q Query) Match(familyID, childID, status string) bool {
	if q.FamilyID != "" && familyID != q.FamilyID {
		return false
	}
	if q.ChildID != "" && childID != q.ChildID {
		return false
	}
	if q.Status != "" && status != q.Status {
		return false
	}
	return true
}
