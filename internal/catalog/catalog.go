// Package catalog manages the per-family roster of children, the task
// templates they can claim and the rewards they can buy.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stars/internal/core"
	"stars/internal/log"
	"stars/internal/store"
)

type (
	TemplateInput struct {
		FamilyID string
		Name     string
		Category string
		Stars    int64
	}

	// TemplatePatch changes only the non-nil fields.
	TemplatePatch struct {
		Name     *string
		Category *string
		Stars    *int64
		Active   *bool
	}

	RewardInput struct {
		FamilyID string
		Name     string
		Cost     int64
	}

	RewardPatch struct {
		Name   *string
		Cost   *int64
		Active *bool
	}
)

type Catalog struct {
	store  store.Store
	now    func() time.Time
	newID  func() string
	logger *log.Logger
}

type Option func(*Catalog)

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func WithIDs(newID func() string) Option {
	return func(c *Catalog) { c.newID = newID }
}

func New(st store.Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:  st,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: log.ForComponent(log.ComponentCatalog),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) stamp() time.Time { return c.now().UTC() }

func notInFamily(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, core.ErrNotFound)
}

// ─── Children ────────────────────────────────────────────────────────────────

func (c *Catalog) AddChild(ctx context.Context, familyID, name string) (core.Child, error) {
	child := core.Child{
		ID:        c.newID(),
		FamilyID:  strings.TrimSpace(familyID),
		Name:      strings.TrimSpace(name),
		CreatedAt: c.stamp(),
	}
	if err := child.Validate(); err != nil {
		return core.Child{}, err
	}
	err := c.store.Update(ctx, func(tx store.Tx) error {
		return tx.InsertChild(ctx, child)
	})
	if err != nil {
		return core.Child{}, fmt.Errorf("add child: %w", err)
	}
	c.logger.InfoContext(ctx, "Child added", log.FieldFamilyID, child.FamilyID, log.FieldChildID, child.ID)
	return child, nil
}

func (c *Catalog) Child(ctx context.Context, id string) (core.Child, error) {
	var child core.Child
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		child, err = tx.GetChild(ctx, id)
		return err
	})
	return child, err
}

func (c *Catalog) Children(ctx context.Context, familyID string) ([]core.Child, error) {
	var out []core.Child
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListChildren(ctx, familyID)
		return err
	})
	return out, err
}

// ─── Templates ───────────────────────────────────────────────────────────────

func (c *Catalog) CreateTemplate(ctx context.Context, in TemplateInput) (core.TaskTemplate, error) {
	category, err := core.ParseCategory(in.Category)
	if err != nil {
		return core.TaskTemplate{}, err
	}
	now := c.stamp()
	tmpl := core.TaskTemplate{
		ID:        c.newID(),
		FamilyID:  strings.TrimSpace(in.FamilyID),
		Name:      strings.TrimSpace(in.Name),
		Category:  category,
		Stars:     in.Stars,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tmpl.Validate(); err != nil {
		return core.TaskTemplate{}, err
	}
	if err := c.store.Update(ctx, func(tx store.Tx) error {
		return tx.InsertTemplate(ctx, tmpl)
	}); err != nil {
		return core.TaskTemplate{}, fmt.Errorf("create template: %w", err)
	}
	c.logger.InfoContext(ctx, "Task template created",
		log.FieldFamilyID, tmpl.FamilyID, log.FieldTemplateID, tmpl.ID, log.FieldStars, tmpl.Stars,
		log.FieldCategory, string(tmpl.Category))
	return tmpl, nil
}

// UpdateTemplate edits a template. Submissions already created keep the
// values they captured.
func (c *Catalog) UpdateTemplate(ctx context.Context, familyID, id string, patch TemplatePatch) (core.TaskTemplate, error) {
	var tmpl core.TaskTemplate
	err := c.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if tmpl, err = tx.GetTemplate(ctx, id); err != nil {
			return err
		}
		if tmpl.FamilyID != familyID {
			return notInFamily("template", id)
		}
		if patch.Name != nil {
			tmpl.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Category != nil {
			if tmpl.Category, err = core.ParseCategory(*patch.Category); err != nil {
				return err
			}
		}
		if patch.Stars != nil {
			tmpl.Stars = *patch.Stars
		}
		if patch.Active != nil {
			tmpl.Active = *patch.Active
		}
		tmpl.UpdatedAt = c.stamp()
		return tx.UpdateTemplate(ctx, tmpl)
	})
	if err != nil {
		return core.TaskTemplate{}, err
	}
	c.logger.InfoContext(ctx, "Task template updated", log.FieldTemplateID, id, "active", tmpl.Active)
	return tmpl, nil
}

// DeleteTemplate removes a template that no submission references. A
// referenced template is archived instead and archived reports true.
func (c *Catalog) DeleteTemplate(ctx context.Context, familyID, id string) (archived bool, err error) {
	err = c.store.Update(ctx, func(tx store.Tx) error {
		tmpl, err := tx.GetTemplate(ctx, id)
		if err != nil {
			return err
		}
		if tmpl.FamilyID != familyID {
			return notInFamily("template", id)
		}
		referenced, err := tx.TemplateReferenced(ctx, id)
		if err != nil {
			return err
		}
		if !referenced {
			return tx.DeleteTemplate(ctx, id)
		}
		archived = true
		tmpl.Active = false
		tmpl.UpdatedAt = c.stamp()
		return tx.UpdateTemplate(ctx, tmpl)
	})
	if err != nil {
		return false, err
	}
	c.logger.InfoContext(ctx, "Task template removed", log.FieldTemplateID, id, "archived", archived)
	return archived, nil
}

func (c *Catalog) Template(ctx context.Context, id string) (core.TaskTemplate, error) {
	var tmpl core.TaskTemplate
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		tmpl, err = tx.GetTemplate(ctx, id)
		return err
	})
	return tmpl, err
}

func (c *Catalog) Templates(ctx context.Context, familyID string, activeOnly bool) ([]core.TaskTemplate, error) {
	var out []core.TaskTemplate
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListTemplates(ctx, familyID, activeOnly)
		return err
	})
	return out, err
}

// ClaimableTx resolves a child and one of its family's active templates
// inside an existing transaction.
func ClaimableTx(ctx context.Context, tx store.Tx, childID, templateID string) (core.Child, core.TaskTemplate, error) {
	child, err := tx.GetChild(ctx, childID)
	if err != nil {
		return core.Child{}, core.TaskTemplate{}, err
	}
	tmpl, err := tx.GetTemplate(ctx, templateID)
	if err != nil {
		return core.Child{}, core.TaskTemplate{}, err
	}
	if tmpl.FamilyID != child.FamilyID {
		return core.Child{}, core.TaskTemplate{}, notInFamily("template", templateID)
	}
	if !tmpl.Active {
		return core.Child{}, core.TaskTemplate{}, fmt.Errorf("template %s: %w", templateID, core.ErrTemplateInactive)
	}
	return child, tmpl, nil
}

// ─── Rewards ─────────────────────────────────────────────────────────────────

func (c *Catalog) CreateReward(ctx context.Context, in RewardInput) (core.Reward, error) {
	now := c.stamp()
	reward := core.Reward{
		ID:        c.newID(),
		FamilyID:  strings.TrimSpace(in.FamilyID),
		Name:      strings.TrimSpace(in.Name),
		Cost:      in.Cost,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := reward.Validate(); err != nil {
		return core.Reward{}, err
	}
	if err := c.store.Update(ctx, func(tx store.Tx) error {
		return tx.InsertReward(ctx, reward)
	}); err != nil {
		return core.Reward{}, fmt.Errorf("create reward: %w", err)
	}
	c.logger.InfoContext(ctx, "Reward created",
		log.FieldFamilyID, reward.FamilyID, log.FieldRewardID, reward.ID, log.FieldStars, reward.Cost)
	return reward, nil
}

func (c *Catalog) UpdateReward(ctx context.Context, familyID, id string, patch RewardPatch) (core.Reward, error) {
	var reward core.Reward
	err := c.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if reward, err = tx.GetReward(ctx, id); err != nil {
			return err
		}
		if reward.FamilyID != familyID {
			return notInFamily("reward", id)
		}
		if patch.Name != nil {
			reward.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Cost != nil {
			reward.Cost = *patch.Cost
		}
		if patch.Active != nil {
			reward.Active = *patch.Active
		}
		reward.UpdatedAt = c.stamp()
		return tx.UpdateReward(ctx, reward)
	})
	if err != nil {
		return core.Reward{}, err
	}
	c.logger.InfoContext(ctx, "Reward updated", log.FieldRewardID, id, "active", reward.Active)
	return reward, nil
}

// DeleteReward removes an unredeemed reward or archives a redeemed one.
func (c *Catalog) DeleteReward(ctx context.Context, familyID, id string) (archived bool, err error) {
	err = c.store.Update(ctx, func(tx store.Tx) error {
		reward, err := tx.GetReward(ctx, id)
		if err != nil {
			return err
		}
		if reward.FamilyID != familyID {
			return notInFamily("reward", id)
		}
		referenced, err := tx.RewardReferenced(ctx, id)
		if err != nil {
			return err
		}
		if !referenced {
			return tx.DeleteReward(ctx, id)
		}
		archived = true
		reward.Active = false
		reward.UpdatedAt = c.stamp()
		return tx.UpdateReward(ctx, reward)
	})
	if err != nil {
		return false, err
	}
	c.logger.InfoContext(ctx, "Reward removed", log.FieldRewardID, id, "archived", archived)
	return archived, nil
}

func (c *Catalog) Reward(ctx context.Context, id string) (core.Reward, error) {
	var reward core.Reward
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		reward, err = tx.GetReward(ctx, id)
		return err
	})
	return reward, err
}

func (c *Catalog) Rewards(ctx context.Context, familyID string, activeOnly bool) ([]core.Reward, error) {
	var out []core.Reward
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListRewards(ctx, familyID, activeOnly)
		return err
	})
	return out, err
}

// RedeemableTx resolves a child and one of its family's active rewards
// inside an existing transaction.
func RedeemableTx(ctx context.Context, tx store.Tx, childID, rewardID string) (core.Child, core.Reward, error) {
	child, err := tx.GetChild(ctx, childID)
	if err != nil {
		return core.Child{}, core.Reward{}, err
	}
	reward, err := tx.GetReward(ctx, rewardID)
	if err != nil {
		return core.Child{}, core.Reward{}, err
	}
	if reward.FamilyID != child.FamilyID {
		return core.Child{}, core.Reward{}, notInFamily("reward", rewardID)
	}
	if !reward.Active {
		return core.Child{}, core.Reward{}, fmt.Errorf("reward %s: %w", rewardID, core.ErrRewardInactive)
	}
	return child, reward, nil
}
