package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stars/internal/core"
	"stars/internal/store"
)

// casErr resolves a compare-and-swap update that touched no row into
// not-found or conflict.
func (t *tx) casErr(ctx context.Context, res sql.Result, table, entity, id, expected string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s rows affected: %w", entity, id, err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = t.queryRow(ctx, `SELECT status FROM `+table+` WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s %s status: %w", entity, id, err)
	}
	return fmt.Errorf("%s %s is %s, expected %s: %w", entity, id, status, expected, store.ErrConflict)
}

// queryFilter renders the shared family/child/status filter.
func queryFilter(q store.Query) (string, []any) {
	where := " WHERE 1 = 1"
	var args []any
	if q.FamilyID != "" {
		where += " AND family_id = ?"
		args = append(args, q.FamilyID)
	}
	if q.ChildID != "" {
		where += " AND child_id = ?"
		args = append(args, q.ChildID)
	}
	if q.Status != "" {
		where += " AND status = ?"
		args = append(args, q.Status)
	}
	return where, args
}

func withLimit(query string, args []any, limit int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return query, args
}

// ─── Submissions ─────────────────────────────────────────────────────────────

const submissionColumns = `id, template_id, template_name, family_id, child_id, status, stars,
	category, reflection, parent_message, reject_reason, reviewed_by, resubmission_of,
	created_at, submitted_at, reviewed_at`

func scanSubmission(row scanner) (core.TaskSubmission, error) {
	var (
		s                       core.TaskSubmission
		status, category        string
		createdAt               int64
		submittedAt, reviewedAt sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.TemplateID, &s.TemplateName, &s.FamilyID, &s.ChildID, &status, &s.Stars,
		&category, &s.Reflection, &s.ParentMessage, &s.RejectReason, &s.ReviewedBy, &s.ResubmissionOf,
		&createdAt, &submittedAt, &reviewedAt)
	if err != nil {
		return core.TaskSubmission{}, err
	}
	s.Status = core.SubmissionStatus(status)
	s.Category = core.Category(category)
	s.CreatedAt = fromMillis(createdAt)
	s.SubmittedAt = fromNullMillis(submittedAt)
	s.ReviewedAt = fromNullMillis(reviewedAt)
	return s, nil
}

func (t *tx) InsertSubmission(ctx context.Context, s core.TaskSubmission) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx,
		`INSERT INTO task_submissions (`+submissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TemplateID, s.TemplateName, s.FamilyID, s.ChildID, string(s.Status), s.Stars,
		string(s.Category), s.Reflection, s.ParentMessage, s.RejectReason, s.ReviewedBy, s.ResubmissionOf,
		toMillis(s.CreatedAt), toNullMillis(s.SubmittedAt), toNullMillis(s.ReviewedAt))
	if err != nil {
		return insertErr("submission", s.ID, err)
	}
	t.record(store.EntitySubmission, store.OpCreate, s.ID, s.FamilyID, s.ChildID)
	return nil
}

func (t *tx) UpdateSubmission(ctx context.Context, s core.TaskSubmission, expected core.SubmissionStatus) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx,
		`UPDATE task_submissions
		 SET status = ?, reflection = ?, parent_message = ?, reject_reason = ?, reviewed_by = ?,
		     submitted_at = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		string(s.Status), s.Reflection, s.ParentMessage, s.RejectReason, s.ReviewedBy,
		toNullMillis(s.SubmittedAt), toNullMillis(s.ReviewedAt),
		s.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update submission %s: %w", s.ID, err)
	}
	if err := t.casErr(ctx, res, "task_submissions", "submission", s.ID, string(expected)); err != nil {
		return err
	}
	t.record(store.EntitySubmission, store.OpUpdate, s.ID, s.FamilyID, s.ChildID)
	return nil
}

func (t *tx) GetSubmission(ctx context.Context, id string) (core.TaskSubmission, error) {
	s, err := scanSubmission(t.queryRow(ctx,
		`SELECT `+submissionColumns+` FROM task_submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.TaskSubmission{}, fmt.Errorf("submission %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.TaskSubmission{}, fmt.Errorf("get submission %s: %w", id, err)
	}
	return s, nil
}

func (t *tx) ListSubmissions(ctx context.Context, q store.Query) ([]core.TaskSubmission, error) {
	where, args := queryFilter(q)
	query, args := withLimit(
		`SELECT `+submissionColumns+` FROM task_submissions`+where+` ORDER BY created_at DESC, id`,
		args, q.Limit)

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []core.TaskSubmission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ─── Proposals ───────────────────────────────────────────────────────────────

const proposalColumns = `id, family_id, child_id, name, category, suggested_stars, reason, status,
	parent_comment, agreed_stars, template_id, created_at, discussed_at, decided_at`

func scanProposal(row scanner) (core.TaskProposal, error) {
	var (
		p                      core.TaskProposal
		category, status       string
		agreed                 sql.NullInt64
		createdAt              int64
		discussedAt, decidedAt sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.FamilyID, &p.ChildID, &p.Name, &category, &p.SuggestedStars, &p.Reason,
		&status, &p.ParentComment, &agreed, &p.TemplateID, &createdAt, &discussedAt, &decidedAt)
	if err != nil {
		return core.TaskProposal{}, err
	}
	p.Category = core.Category(category)
	p.Status = core.ProposalStatus(status)
	if agreed.Valid {
		v := agreed.Int64
		p.AgreedStars = &v
	}
	p.CreatedAt = fromMillis(createdAt)
	p.DiscussedAt = fromNullMillis(discussedAt)
	p.DecidedAt = fromNullMillis(decidedAt)
	return p, nil
}

func agreedStars(p core.TaskProposal) sql.NullInt64 {
	if p.AgreedStars == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p.AgreedStars, Valid: true}
}

func (t *tx) InsertProposal(ctx context.Context, p core.TaskProposal) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx,
		`INSERT INTO task_proposals (`+proposalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FamilyID, p.ChildID, p.Name, string(p.Category), p.SuggestedStars, p.Reason,
		string(p.Status), p.ParentComment, agreedStars(p), p.TemplateID,
		toMillis(p.CreatedAt), toNullMillis(p.DiscussedAt), toNullMillis(p.DecidedAt))
	if err != nil {
		return insertErr("proposal", p.ID, err)
	}
	t.record(store.EntityProposal, store.OpCreate, p.ID, p.FamilyID, p.ChildID)
	return nil
}

func (t *tx) UpdateProposal(ctx context.Context, p core.TaskProposal, expected core.ProposalStatus) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx,
		`UPDATE task_proposals
		 SET status = ?, parent_comment = ?, agreed_stars = ?, template_id = ?,
		     discussed_at = ?, decided_at = ?
		 WHERE id = ? AND status = ?`,
		string(p.Status), p.ParentComment, agreedStars(p), p.TemplateID,
		toNullMillis(p.DiscussedAt), toNullMillis(p.DecidedAt),
		p.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update proposal %s: %w", p.ID, err)
	}
	if err := t.casErr(ctx, res, "task_proposals", "proposal", p.ID, string(expected)); err != nil {
		return err
	}
	t.record(store.EntityProposal, store.OpUpdate, p.ID, p.FamilyID, p.ChildID)
	return nil
}

func (t *tx) GetProposal(ctx context.Context, id string) (core.TaskProposal, error) {
	p, err := scanProposal(t.queryRow(ctx,
		`SELECT `+proposalColumns+` FROM task_proposals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.TaskProposal{}, fmt.Errorf("proposal %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.TaskProposal{}, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return p, nil
}

func (t *tx) ListProposals(ctx context.Context, q store.Query) ([]core.TaskProposal, error) {
	where, args := queryFilter(q)
	query, args := withLimit(
		`SELECT `+proposalColumns+` FROM task_proposals`+where+` ORDER BY created_at DESC, id`,
		args, q.Limit)

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []core.TaskProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─── Redemptions ─────────────────────────────────────────────────────────────

const redemptionColumns = `id, reward_id, reward_name, child_id, family_id, stars_spent, status,
	transaction_id, redeemed_at, fulfilled_at`

func scanRedemption(row scanner) (core.RewardRedemption, error) {
	var (
		r           core.RewardRedemption
		status      string
		redeemedAt  int64
		fulfilledAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.RewardID, &r.RewardName, &r.ChildID, &r.FamilyID, &r.StarsSpent, &status,
		&r.TransactionID, &redeemedAt, &fulfilledAt)
	if err != nil {
		return core.RewardRedemption{}, err
	}
	r.Status = core.RedemptionStatus(status)
	r.RedeemedAt = fromMillis(redeemedAt)
	r.FulfilledAt = fromNullMillis(fulfilledAt)
	return r, nil
}

func (t *tx) InsertRedemption(ctx context.Context, r core.RewardRedemption) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx,
		`INSERT INTO reward_redemptions (`+redemptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RewardID, r.RewardName, r.ChildID, r.FamilyID, r.StarsSpent, string(r.Status),
		r.TransactionID, toMillis(r.RedeemedAt), toNullMillis(r.FulfilledAt))
	if err != nil {
		return insertErr("redemption", r.ID, err)
	}
	t.record(store.EntityRedemption, store.OpCreate, r.ID, r.FamilyID, r.ChildID)
	return nil
}

func (t *tx) UpdateRedemption(ctx context.Context, r core.RewardRedemption, expected core.RedemptionStatus) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx,
		`UPDATE reward_redemptions SET status = ?, fulfilled_at = ? WHERE id = ? AND status = ?`,
		string(r.Status), toNullMillis(r.FulfilledAt), r.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update redemption %s: %w", r.ID, err)
	}
	if err := t.casErr(ctx, res, "reward_redemptions", "redemption", r.ID, string(expected)); err != nil {
		return err
	}
	t.record(store.EntityRedemption, store.OpUpdate, r.ID, r.FamilyID, r.ChildID)
	return nil
}

func (t *tx) GetRedemption(ctx context.Context, id string) (core.RewardRedemption, error) {
	r, err := scanRedemption(t.queryRow(ctx,
		`SELECT `+redemptionColumns+` FROM reward_redemptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.RewardRedemption{}, fmt.Errorf("redemption %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.RewardRedemption{}, fmt.Errorf("get redemption %s: %w", id, err)
	}
	return r, nil
}

func (t *tx) ListRedemptions(ctx context.Context, q store.Query) ([]core.RewardRedemption, error) {
	where, args := queryFilter(q)
	query, args := withLimit(
		`SELECT `+redemptionColumns+` FROM reward_redemptions`+where+` ORDER BY redeemed_at DESC, id`,
		args, q.Limit)

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var out []core.RewardRedemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
