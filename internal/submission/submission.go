// Package submission runs the claim-and-review workflow: a child claims a
// task, a parent approves or rejects it, and approval credits the ledger.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stars/internal/catalog"
	"stars/internal/core"
	"stars/internal/ledger"
	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/store"
)

type (
	CreateRequest struct {
		ChildID    string
		TemplateID string
		Reflection string
	}

	// Review is a parent's decision. Message is the optional note on
	// approval and the required reason on rejection.
	Review struct {
		ParentID string
		Message  string
	}

	Filter struct {
		FamilyID string
		ChildID  string
		Status   core.SubmissionStatus
		Limit    int
	}
)

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
		logger: log.ForComponent(log.ComponentSubmission),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) stamp() time.Time { return w.now().UTC() }

func transitionErr(s core.TaskSubmission, to core.SubmissionStatus) error {
	return &core.TransitionError{Entity: "submission", ID: s.ID, From: string(s.Status), To: string(to)}
}

// claim builds a new submission capturing the template's current value.
func (w *Workflow) claim(ctx context.Context, tx store.Tx, req CreateRequest, status core.SubmissionStatus, resubmissionOf string) (core.TaskSubmission, error) {
	child, tmpl, err := catalog.ClaimableTx(ctx, tx, req.ChildID, req.TemplateID)
	if err != nil {
		return core.TaskSubmission{}, err
	}
	now := w.stamp()
	s := core.TaskSubmission{
		ID:             w.newID(),
		TemplateID:     tmpl.ID,
		TemplateName:   tmpl.Name,
		FamilyID:       child.FamilyID,
		ChildID:        child.ID,
		Status:         status,
		Stars:          tmpl.Stars,
		Category:       tmpl.Category,
		Reflection:     strings.TrimSpace(req.Reflection),
		ResubmissionOf: resubmissionOf,
		CreatedAt:      now,
	}
	if status == core.SubmissionSubmitted {
		s.SubmittedAt = now
	}
	if err := tx.InsertSubmission(ctx, s); err != nil {
		return core.TaskSubmission{}, fmt.Errorf("insert submission: %w", err)
	}
	return s, nil
}

// Create claims a task as done; the submission starts out submitted.
func (w *Workflow) Create(ctx context.Context, req CreateRequest) (core.TaskSubmission, error) {
	var s core.TaskSubmission
	err := w.store.Update(ctx, func(tx store.Tx) error {
		var err error
		s, err = w.claim(ctx, tx, req, core.SubmissionSubmitted, "")
		return err
	})
	if err != nil {
		return core.TaskSubmission{}, err
	}
	metrics.RecordTransition("submission", string(s.Status))
	w.logger.InfoContext(ctx, "Task submitted",
		log.FieldSubmissionID, s.ID, log.FieldChildID, s.ChildID, log.FieldTemplateID, s.TemplateID, log.FieldStars, s.Stars, log.FieldCategory, string(s.Category))
	return s, nil
}

// Start records that a child picked a task without claiming it yet. The
// value is captured now.
func (w *Workflow) Start(ctx context.Context, childID, templateID string) (core.TaskSubmission, error) {
	var s core.TaskSubmission
	err := w.store.Update(ctx, func(tx store.Tx) error {
		var err error
		s, err = w.claim(ctx, tx, CreateRequest{ChildID: childID, TemplateID: templateID}, core.SubmissionPending, "")
		return err
	})
	if err != nil {
		return core.TaskSubmission{}, err
	}
	metrics.RecordTransition("submission", string(s.Status))
	w.logger.InfoContext(ctx, "Task started", log.FieldSubmissionID, s.ID, log.FieldChildID, s.ChildID)
	return s, nil
}

// Submit moves a pending submission to submitted.
func (w *Workflow) Submit(ctx context.Context, id, reflection string) (core.TaskSubmission, error) {
	var s core.TaskSubmission
	err := w.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if s, err = tx.GetSubmission(ctx, id); err != nil {
			return err
		}
		if !s.Status.CanTransition(core.SubmissionSubmitted) {
			return transitionErr(s, core.SubmissionSubmitted)
		}
		if r := strings.TrimSpace(reflection); r != "" {
			s.Reflection = r
		}
		s.Status = core.SubmissionSubmitted
		s.SubmittedAt = w.stamp()
		return w.swap(ctx, tx, s, core.SubmissionPending)
	})
	if err != nil {
		return core.TaskSubmission{}, err
	}
	metrics.RecordTransition("submission", string(s.Status))
	w.logger.InfoContext(ctx, "Task submitted", log.FieldSubmissionID, s.ID, log.FieldChildID, s.ChildID)
	return s, nil
}

// Approve marks a submitted task approved and credits its captured stars in
// the same transaction. Approving an approved submission returns
// core.ErrAlreadyApproved and credits nothing.
func (w *Workflow) Approve(ctx context.Context, id string, review Review) (core.TaskSubmission, core.StarTransaction, error) {
	var (
		s   core.TaskSubmission
		rec core.StarTransaction
	)
	err := w.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if s, err = tx.GetSubmission(ctx, id); err != nil {
			return err
		}
		if s.Status == core.SubmissionApproved {
			return fmt.Errorf("submission %s: %w", id, core.ErrAlreadyApproved)
		}
		if !s.Status.CanTransition(core.SubmissionApproved) {
			return transitionErr(s, core.SubmissionApproved)
		}

		s.Status = core.SubmissionApproved
		s.ParentMessage = strings.TrimSpace(review.Message)
		s.ReviewedBy = review.ParentID
		s.ReviewedAt = w.stamp()
		if err := w.swap(ctx, tx, s, core.SubmissionSubmitted); err != nil {
			return err
		}

		rec, err = w.ledger.EarnTx(ctx, tx, s.ChildID, s.Stars, "Completed: "+s.TemplateName, s.ID)
		return err
	})
	if err != nil {
		if core.IsIdempotent(err) {
			w.logger.InfoContext(ctx, "Submission already approved", log.FieldSubmissionID, id)
		} else {
			w.logger.WarnContext(ctx, "Submission approval refused",
				log.FieldSubmissionID, id, log.FieldOperation, log.OpApprove, log.FieldError, err)
		}
		return core.TaskSubmission{}, core.StarTransaction{}, err
	}

	metrics.RecordTransition("submission", string(s.Status))
	metrics.RecordAppend(string(rec.Kind), rec.Amount)
	w.logger.InfoContext(ctx, "Submission approved",
		log.FieldSubmissionID, s.ID, log.FieldChildID, s.ChildID, log.FieldTransactionID, rec.ID,
		log.FieldStars, rec.Amount, log.FieldActor, review.ParentID)
	return s, rec, nil
}

// Reject closes a submitted task without touching the ledger. A reason is
// required.
func (w *Workflow) Reject(ctx context.Context, id string, review Review) (core.TaskSubmission, error) {
	reason := strings.TrimSpace(review.Message)
	if reason == "" {
		return core.TaskSubmission{}, core.ErrMissingReason
	}
	var s core.TaskSubmission
	err := w.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if s, err = tx.GetSubmission(ctx, id); err != nil {
			return err
		}
		if !s.Status.CanTransition(core.SubmissionRejected) {
			return transitionErr(s, core.SubmissionRejected)
		}
		s.Status = core.SubmissionRejected
		s.RejectReason = reason
		s.ReviewedBy = review.ParentID
		s.ReviewedAt = w.stamp()
		return w.swap(ctx, tx, s, core.SubmissionSubmitted)
	})
	if err != nil {
		w.logger.WarnContext(ctx, "Submission rejection refused",
			log.FieldSubmissionID, id, log.FieldOperation, log.OpReject, log.FieldError, err)
		return core.TaskSubmission{}, err
	}
	metrics.RecordTransition("submission", string(s.Status))
	w.logger.InfoContext(ctx, "Submission rejected",
		log.FieldSubmissionID, s.ID, log.FieldChildID, s.ChildID, log.FieldActor, review.ParentID)
	return s, nil
}

// Resubmit re-does a rejected task as a new submission. The rejected one is
// left untouched and the template's current value is captured again.
func (w *Workflow) Resubmit(ctx context.Context, rejectedID, reflection string) (core.TaskSubmission, error) {
	var s core.TaskSubmission
	err := w.store.Update(ctx, func(tx store.Tx) error {
		old, err := tx.GetSubmission(ctx, rejectedID)
		if err != nil {
			return err
		}
		if old.Status != core.SubmissionRejected {
			return transitionErr(old, core.SubmissionSubmitted)
		}
		req := CreateRequest{ChildID: old.ChildID, TemplateID: old.TemplateID, Reflection: reflection}
		s, err = w.claim(ctx, tx, req, core.SubmissionSubmitted, old.ID)
		return err
	})
	if err != nil {
		return core.TaskSubmission{}, err
	}
	metrics.RecordTransition("submission", string(s.Status))
	w.logger.InfoContext(ctx, "Task resubmitted",
		log.FieldSubmissionID, s.ID, log.FieldChildID, s.ChildID, "resubmission_of", rejectedID)
	return s, nil
}

// swap writes s if the stored status still equals expected. A lost race is
// reported against the status that won it.
func (w *Workflow) swap(ctx context.Context, tx store.Tx, s core.TaskSubmission, expected core.SubmissionStatus) error {
	err := tx.UpdateSubmission(ctx, s, expected)
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	cur, getErr := tx.GetSubmission(ctx, s.ID)
	if getErr != nil {
		return err
	}
	if cur.Status == core.SubmissionApproved && s.Status == core.SubmissionApproved {
		return fmt.Errorf("submission %s: %w", s.ID, core.ErrAlreadyApproved)
	}
	return transitionErr(cur, s.Status)
}

func (w *Workflow) Get(ctx context.Context, id string) (core.TaskSubmission, error) {
	var s core.TaskSubmission
	err := w.store.View(ctx, func(tx store.Tx) error {
		var err error
		s, err = tx.GetSubmission(ctx, id)
		return err
	})
	return s, err
}

// List returns matching submissions, newest first.
func (w *Workflow) List(ctx context.Context, f Filter) ([]core.TaskSubmission, error) {
	var out []core.TaskSubmission
	err := w.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListSubmissions(ctx, store.Query{
			FamilyID: f.FamilyID,
			ChildID:  f.ChildID,
			Status:   string(f.Status),
			Limit:    f.Limit,
		})
		return err
	})
	return out, err
}
