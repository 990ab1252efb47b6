// Package proposal runs the negotiation over a task a child would like to
// add. Proposals settle the value of future work and never touch the ledger.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stars/internal/core"
	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/store"
)

type (
	CreateRequest struct {
		ChildID        string
		Name           string
		Category       string
		SuggestedStars int64
		Reason         string
	}

	Filter struct {
		FamilyID string
		ChildID  string
		Status   core.ProposalStatus
		Limit    int
	}
)

type Workflow struct {
	store       store.Store
	now         func() time.Time
	newID       func() string
	materialize bool
	logger      *log.Logger
}

type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithIDs(newID func() string) Option {
	return func(w *Workflow) { w.newID = newID }
}

// WithMaterializeTemplates controls whether approval creates an active task
// template carrying the agreed value. It is on by default.
func WithMaterializeTemplates(on bool) Option {
	return func(w *Workflow) { w.materialize = on }
}

func New(st store.Store, opts ...Option) *Workflow {
	w := &Workflow{
		store:       st,
		now:         time.Now,
		newID:       uuid.NewString,
		materialize: true,
		logger:      log.ForComponent(log.ComponentProposal),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) stamp() time.Time { return w.now().UTC() }

func transitionErr(p core.TaskProposal, to core.ProposalStatus) error {
	return &core.TransitionError{Entity: "proposal", ID: p.ID, From: string(p.Status), To: string(to)}
}

func (w *Workflow) Create(ctx context.Context, req CreateRequest) (core.TaskProposal, error) {
	category, err := core.ParseCategory(req.Category)
	if err != nil {
		return core.TaskProposal{}, err
	}
	var p core.TaskProposal
	err = w.store.Update(ctx, func(tx store.Tx) error {
		child, err := tx.GetChild(ctx, req.ChildID)
		if err != nil {
			return err
		}
		p = core.TaskProposal{
			ID:             w.newID(),
			FamilyID:       child.FamilyID,
			ChildID:        child.ID,
			Name:           strings.TrimSpace(req.Name),
			Category:       category,
			SuggestedStars: req.SuggestedStars,
			Reason:         strings.TrimSpace(req.Reason),
			Status:         core.ProposalPending,
			CreatedAt:      w.stamp(),
		}
		if err := p.Validate(); err != nil {
			return err
		}
		return tx.InsertProposal(ctx, p)
	})
	if err != nil {
		return core.TaskProposal{}, err
	}
	metrics.RecordTransition("proposal", string(p.Status))
	w.logger.InfoContext(ctx, "Task proposed",
		log.FieldProposalID, p.ID, log.FieldChildID, p.ChildID, log.FieldStars, p.SuggestedStars)
	return p, nil
}

// Comment records a parent's reply and moves the proposal into discussion.
// A nil agreedStars keeps any value agreed earlier.
func (w *Workflow) Comment(ctx context.Context, id, text string, agreedStars *int64) (core.TaskProposal, error) {
	text = strings.TrimSpace(text)
	if text == "" && agreedStars == nil {
		return core.TaskProposal{}, core.ErrMissingReason
	}
	p, err := w.decide(ctx, id, core.ProposalDiscussion, func(p *core.TaskProposal, now time.Time) {
		if text != "" {
			p.ParentComment = text
		}
		if agreedStars != nil {
			v := *agreedStars
			p.AgreedStars = &v
		}
		p.DiscussedAt = now
	}, nil)
	if err != nil {
		return core.TaskProposal{}, err
	}
	w.logger.InfoContext(ctx, "Proposal discussed", log.FieldProposalID, p.ID, log.FieldChildID, p.ChildID)
	return p, nil
}

// Approve fixes the agreed value. With template materialisation enabled the
// new active template is created in the same transaction.
func (w *Workflow) Approve(ctx context.Context, id string, agreedStars int64, comment string) (core.TaskProposal, error) {
	if agreedStars <= 0 {
		return core.TaskProposal{}, core.ErrInvalidStars
	}
	comment = strings.TrimSpace(comment)
	p, err := w.decide(ctx, id, core.ProposalApproved, func(p *core.TaskProposal, now time.Time) {
		v := agreedStars
		p.AgreedStars = &v
		if comment != "" {
			p.ParentComment = comment
		}
		p.DecidedAt = now
	}, w.materializeTx)
	if err != nil {
		return core.TaskProposal{}, err
	}
	w.logger.InfoContext(ctx, "Proposal approved",
		log.FieldProposalID, p.ID, log.FieldChildID, p.ChildID, log.FieldStars, agreedStars, log.FieldTemplateID, p.TemplateID)
	return p, nil
}

func (w *Workflow) Reject(ctx context.Context, id, reason string) (core.TaskProposal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return core.TaskProposal{}, core.ErrMissingReason
	}
	p, err := w.decide(ctx, id, core.ProposalRejected, func(p *core.TaskProposal, now time.Time) {
		p.ParentComment = reason
		p.DecidedAt = now
	}, nil)
	if err != nil {
		return core.TaskProposal{}, err
	}
	w.logger.InfoContext(ctx, "Proposal rejected", log.FieldProposalID, p.ID, log.FieldChildID, p.ChildID)
	return p, nil
}

// decide applies one transition: mutate sets the new fields, then after
// (optional) runs inside the same transaction before the swap is written.
func (w *Workflow) decide(
	ctx context.Context,
	id string,
	to core.ProposalStatus,
	mutate func(*core.TaskProposal, time.Time),
	after func(context.Context, store.Tx, *core.TaskProposal) error,
) (core.TaskProposal, error) {
	var p core.TaskProposal
	err := w.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if p, err = tx.GetProposal(ctx, id); err != nil {
			return err
		}
		if !p.Status.CanTransition(to) {
			return transitionErr(p, to)
		}
		expected := p.Status
		p.Status = to
		mutate(&p, w.stamp())
		if after != nil {
			if err := after(ctx, tx, &p); err != nil {
				return err
			}
		}
		err = tx.UpdateProposal(ctx, p, expected)
		if errors.Is(err, store.ErrConflict) {
			cur, getErr := tx.GetProposal(ctx, id)
			if getErr != nil {
				return err
			}
			return transitionErr(cur, to)
		}
		return err
	})
	if err != nil {
		w.logger.WarnContext(ctx, "Proposal transition refused",
			log.FieldProposalID, id, log.FieldStatus, to, log.FieldOperation, operation(to), log.FieldError, err)
		return core.TaskProposal{}, err
	}
	metrics.RecordTransition("proposal", string(p.Status))
	return p, nil
}

func (w *Workflow) materializeTx(ctx context.Context, tx store.Tx, p *core.TaskProposal) error {
	if !w.materialize {
		return nil
	}
	now := w.stamp()
	tmpl := core.TaskTemplate{
		ID:         w.newID(),
		FamilyID:   p.FamilyID,
		Name:       p.Name,
		Category:   p.Category,
		Stars:      *p.AgreedStars,
		Active:     true,
		ProposalID: p.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.InsertTemplate(ctx, tmpl); err != nil {
		return fmt.Errorf("materialise template: %w", err)
	}
	p.TemplateID = tmpl.ID
	return nil
}

func (w *Workflow) Get(ctx context.Context, id string) (core.TaskProposal, error) {
	var p core.TaskProposal
	err := w.store.View(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProposal(ctx, id)
		return err
	})
	return p, err
}

// List returns matching proposals, newest first.
func (w *Workflow) List(ctx context.Context, f Filter) ([]core.TaskProposal, error) {
	var out []core.TaskProposal
	err := w.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListProposals(ctx, store.Query{
			FamilyID: f.FamilyID,
			ChildID:  f.ChildID,
			Status:   string(f.Status),
			Limit:    f.Limit,
		})
		return err
	})
	return out, err
}

func operation(to core.ProposalStatus) string {
	switch to {
	case core.ProposalApproved:
		return log.OpApprove
	case core.ProposalRejected:
		return log.OpReject
	default:
		return log.OpUpdate
	}
}
