package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stars/internal/core"
	"stars/internal/store"
)

// ─── Children ────────────────────────────────────────────────────────────────

func scanChild(row scanner) (core.Child, error) {
	var (
		c         core.Child
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.FamilyID, &c.Name, &createdAt); err != nil {
		return core.Child{}, err
	}
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func (t *tx) InsertChild(ctx context.Context, c core.Child) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx,
		`INSERT INTO children (id, family_id, name, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.FamilyID, c.Name, toMillis(c.CreatedAt))
	if err != nil {
		return insertErr("child", c.ID, err)
	}
	t.record(store.EntityChild, store.OpCreate, c.ID, c.FamilyID, c.ID)
	return nil
}

func (t *tx) GetChild(ctx context.Context, id string) (core.Child, error) {
	return t.getChild(ctx, `SELECT id, family_id, name, created_at FROM children WHERE id = ?`, id)
}

// LockChild takes a row lock on PostgreSQL. SQLite write transactions
// already hold the database write lock from BEGIN IMMEDIATE.
func (t *tx) LockChild(ctx context.Context, id string) (core.Child, error) {
	query := `SELECT id, family_id, name, created_at FROM children WHERE id = ?`
	if t.dialect == Postgres && t.writable {
		query += ` FOR UPDATE`
	}
	return t.getChild(ctx, query, id)
}

func (t *tx) getChild(ctx context.Context, query, id string) (core.Child, error) {
	c, err := scanChild(t.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Child{}, fmt.Errorf("child %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Child{}, fmt.Errorf("get child %s: %w", id, err)
	}
	return c, nil
}

func (t *tx) ListChildren(ctx context.Context, familyID string) ([]core.Child, error) {
	rows, err := t.query(ctx,
		`SELECT id, family_id, name, created_at FROM children
		 WHERE family_id = ? ORDER BY created_at, id`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var out []core.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── Templates ───────────────────────────────────────────────────────────────

const templateColumns = `id, family_id, name, category, stars, active, proposal_id, created_at, updated_at`

func scanTemplate(row scanner) (core.TaskTemplate, error) {
	var (
		tt                   core.TaskTemplate
		category             string
		createdAt, updatedAt int64
	)
	err := row.Scan(&tt.ID, &tt.FamilyID, &tt.Name, &category, &tt.Stars, &tt.Active,
		&tt.ProposalID, &createdAt, &updatedAt)
	if err != nil {
		return core.TaskTemplate{}, err
	}
	tt.Category = core.Category(category)
	tt.CreatedAt = fromMillis(createdAt)
	tt.UpdatedAt = fromMillis(updatedAt)
	return tt, nil
}

func (t *tx) InsertTemplate(ctx context.Context, tt core.TaskTemplate) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := tt.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx,
		`INSERT INTO task_templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tt.ID, tt.FamilyID, tt.Name, string(tt.Category), tt.Stars, tt.Active, tt.ProposalID,
		toMillis(tt.CreatedAt), toMillis(tt.UpdatedAt))
	if err != nil {
		return insertErr("template", tt.ID, err)
	}
	t.record(store.EntityTemplate, store.OpCreate, tt.ID, tt.FamilyID, "")
	return nil
}

func (t *tx) UpdateTemplate(ctx context.Context, tt core.TaskTemplate) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := tt.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx,
		`UPDATE task_templates
		 SET name = ?, category = ?, stars = ?, active = ?, proposal_id = ?, updated_at = ?
		 WHERE id = ?`,
		tt.Name, string(tt.Category), tt.Stars, tt.Active, tt.ProposalID, toMillis(tt.UpdatedAt), tt.ID)
	if err != nil {
		return fmt.Errorf("update template %s: %w", tt.ID, err)
	}
	if err := expectRow(res, "template", tt.ID); err != nil {
		return err
	}
	t.record(store.EntityTemplate, store.OpUpdate, tt.ID, tt.FamilyID, "")
	return nil
}

func (t *tx) DeleteTemplate(ctx context.Context, id string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	tt, err := t.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM task_templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	t.record(store.EntityTemplate, store.OpDelete, id, tt.FamilyID, "")
	return nil
}

func (t *tx) GetTemplate(ctx context.Context, id string) (core.TaskTemplate, error) {
	tt, err := scanTemplate(t.queryRow(ctx,
		`SELECT `+templateColumns+` FROM task_templates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.TaskTemplate{}, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.TaskTemplate{}, fmt.Errorf("get template %s: %w", id, err)
	}
	return tt, nil
}

func (t *tx) ListTemplates(ctx context.Context, familyID string, activeOnly bool) ([]core.TaskTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM task_templates WHERE family_id = ?`
	args := []any{familyID}
	if activeOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name, id`

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []core.TaskTemplate
	for rows.Next() {
		tt, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

func (t *tx) TemplateReferenced(ctx context.Context, id string) (bool, error) {
	return t.exists(ctx, `SELECT COUNT(*) FROM task_submissions WHERE template_id = ?`, id)
}

// ─── Rewards ─────────────────────────────────────────────────────────────────

const rewardColumns = `id, family_id, name, cost, active, created_at, updated_at`

func scanReward(row scanner) (core.Reward, error) {
	var (
		r                    core.Reward
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.FamilyID, &r.Name, &r.Cost, &r.Active, &createdAt, &updatedAt); err != nil {
		return core.Reward{}, err
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

func (t *tx) InsertReward(ctx context.Context, r core.Reward) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx,
		`INSERT INTO rewards (`+rewardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FamilyID, r.Name, r.Cost, r.Active, toMillis(r.CreatedAt), toMillis(r.UpdatedAt))
	if err != nil {
		return insertErr("reward", r.ID, err)
	}
	t.record(store.EntityReward, store.OpCreate, r.ID, r.FamilyID, "")
	return nil
}

func (t *tx) UpdateReward(ctx context.Context, r core.Reward) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx,
		`UPDATE rewards SET name = ?, cost = ?, active = ?, updated_at = ? WHERE id = ?`,
		r.Name, r.Cost, r.Active, toMillis(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update reward %s: %w", r.ID, err)
	}
	if err := expectRow(res, "reward", r.ID); err != nil {
		return err
	}
	t.record(store.EntityReward, store.OpUpdate, r.ID, r.FamilyID, "")
	return nil
}

func (t *tx) DeleteReward(ctx context.Context, id string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	r, err := t.GetReward(ctx, id)
	if err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM rewards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete reward %s: %w", id, err)
	}
	t.record(store.EntityReward, store.OpDelete, id, r.FamilyID, "")
	return nil
}

func (t *tx) GetReward(ctx context.Context, id string) (core.Reward, error) {
	r, err := scanReward(t.queryRow(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Reward{}, fmt.Errorf("reward %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Reward{}, fmt.Errorf("get reward %s: %w", id, err)
	}
	return r, nil
}

func (t *tx) ListRewards(ctx context.Context, familyID string, activeOnly bool) ([]core.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE family_id = ?`
	args := []any{familyID}
	if activeOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY cost, id`

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var out []core.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) RewardReferenced(ctx context.Context, id string) (bool, error) {
	return t.exists(ctx, `SELECT COUNT(*) FROM reward_redemptions WHERE reward_id = ?`, id)
}

func (t *tx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int64
	if err := t.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count: %w", err)
	}
	return n > 0, nil
}

func expectRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s rows affected: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, core.ErrNotFound)
	}
	return nil
}
