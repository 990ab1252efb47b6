package core

import (
	"errors"
	"strings"
	"time"
)

const (
	CategoryChore    Category = "chore"
	CategoryStudy    Category = "study"
	CategoryKindness Category = "kindness"
	CategoryOther    Category = "other"

	// CategoryUncategorized is only produced by reporting, never stored.
	CategoryUncategorized Category = "uncategorized"
)

const (
	KindEarn   TransactionKind = "earn"
	KindRedeem TransactionKind = "redeem"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 200
	maxTextLength        = 1000
)

type (
	Category        string
	TransactionKind string

	Child struct {
		ID        string    `json:"id"`
		FamilyID  string    `json:"family_id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}

	TaskTemplate struct {
		ID         string    `json:"id"`
		FamilyID   string    `json:"family_id"`
		Name       string    `json:"name"`
		Category   Category  `json:"category"`
		Stars      int64     `json:"stars"`
		Active     bool      `json:"active"`
		ProposalID string    `json:"proposal_id,omitempty"` // set when materialised from an approved proposal
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	// TaskSubmission captures Stars, Category and TemplateName when it is
	// created; later template edits never change them.
	TaskSubmission struct {
		ID             string           `json:"id"`
		TemplateID     string           `json:"template_id,omitempty"`
		TemplateName   string           `json:"template_name,omitempty"`
		FamilyID       string           `json:"family_id"`
		ChildID        string           `json:"child_id"`
		Status         SubmissionStatus `json:"status"`
		Stars          int64            `json:"stars"`
		Category       Category         `json:"category"`
		Reflection     string           `json:"reflection,omitempty"`
		ParentMessage  string           `json:"parent_message,omitempty"`
		RejectReason   string           `json:"reject_reason,omitempty"`
		ReviewedBy     string           `json:"reviewed_by,omitempty"`
		ResubmissionOf string           `json:"resubmission_of,omitempty"`
		CreatedAt      time.Time        `json:"created_at"`
		SubmittedAt    time.Time        `json:"submitted_at"`
		ReviewedAt     time.Time        `json:"reviewed_at"`
	}

	TaskProposal struct {
		ID             string         `json:"id"`
		FamilyID       string         `json:"family_id"`
		ChildID        string         `json:"child_id"`
		Name           string         `json:"name"`
		Category       Category       `json:"category"`
		SuggestedStars int64          `json:"suggested_stars"`
		Reason         string         `json:"reason,omitempty"`
		Status         ProposalStatus `json:"status"`
		ParentComment  string         `json:"parent_comment,omitempty"`
		AgreedStars    *int64         `json:"agreed_stars,omitempty"`
		TemplateID     string         `json:"template_id,omitempty"`
		CreatedAt      time.Time      `json:"created_at"`
		DiscussedAt    time.Time      `json:"discussed_at"`
		DecidedAt      time.Time      `json:"decided_at"`
	}

	// StarTransaction is a ledger record. Amount is always positive, Kind
	// carries the sign. Seq is assigned by the store and orders insertion.
	StarTransaction struct {
		ID                 string          `json:"id"`
		Seq                int64           `json:"seq"`
		ChildID            string          `json:"child_id"`
		FamilyID           string          `json:"family_id"`
		Kind               TransactionKind `json:"kind"`
		Amount             int64           `json:"amount"`
		Description        string          `json:"description,omitempty"`
		SourceSubmissionID string          `json:"source_submission_id,omitempty"`
		SourceRewardID     string          `json:"source_reward_id,omitempty"`
		CreatedAt          time.Time       `json:"created_at"`
	}

	Reward struct {
		ID        string    `json:"id"`
		FamilyID  string    `json:"family_id"`
		Name      string    `json:"name"`
		Cost      int64     `json:"cost"`
		Active    bool      `json:"active"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	RewardRedemption struct {
		ID            string           `json:"id"`
		RewardID      string           `json:"reward_id,omitempty"`
		RewardName    string           `json:"reward_name,omitempty"`
		ChildID       string           `json:"child_id"`
		FamilyID      string           `json:"family_id"`
		StarsSpent    int64            `json:"stars_spent"`
		Status        RedemptionStatus `json:"status"`
		TransactionID string           `json:"transaction_id,omitempty"`
		RedeemedAt    time.Time        `json:"redeemed_at"`
		FulfilledAt   time.Time        `json:"fulfilled_at"`
	}
)

var (
	ErrEmptyID          = errors.New("empty id")
	ErrEmptyFamily      = errors.New("empty family id")
	ErrEmptyName        = errors.New("empty name")
	ErrNameTooLong      = errors.New("name too long (max 100 characters)")
	ErrTextTooLong      = errors.New("text too long (max 1000 characters)")
	ErrInvalidStars     = errors.New("star amount must be positive")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidKind      = errors.New("invalid transaction kind")
	ErrEmptyDescription = errors.New("empty description")
	ErrMissingSource    = errors.New("transaction has no source")
)

// Categories lists the storable task categories.
func Categories() []Category {
	return []Category{CategoryChore, CategoryStudy, CategoryKindness, CategoryOther}
}

func (c Category) Validate() error {
	switch c {
	case CategoryChore, CategoryStudy, CategoryKindness, CategoryOther:
		return nil
	default:
		return ErrInvalidCategory
	}
}

// ParseCategory normalises user input; an empty string maps to other.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryOther, nil
	}
	c := Category(s)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

func (k TransactionKind) Validate() error {
	switch k {
	case KindEarn, KindRedeem:
		return nil
	default:
		return ErrInvalidKind
	}
}

func validateStars(n int64) error {
	if n <= 0 {
		return ErrInvalidStars
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

func validateText(s string) error {
	if len(s) > maxTextLength {
		return ErrTextTooLong
	}
	return nil
}

func (c Child) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if c.FamilyID == "" {
		return ErrEmptyFamily
	}
	return validateName(c.Name)
}

func (t TaskTemplate) Validate() error {
	if t.ID == "" {
		return ErrEmptyID
	}
	if t.FamilyID == "" {
		return ErrEmptyFamily
	}
	if err := validateName(t.Name); err != nil {
		return err
	}
	if err := t.Category.Validate(); err != nil {
		return err
	}
	return validateStars(t.Stars)
}

func (s TaskSubmission) Validate() error {
	if s.ID == "" || s.TemplateID == "" || s.ChildID == "" {
		return ErrEmptyID
	}
	if s.FamilyID == "" {
		return ErrEmptyFamily
	}
	if err := validateStars(s.Stars); err != nil {
		return err
	}
	if err := validateText(s.Reflection); err != nil {
		return err
	}
	if err := validateText(s.ParentMessage); err != nil {
		return err
	}
	return validateText(s.RejectReason)
}

func (p TaskProposal) Validate() error {
	if p.ID == "" || p.ChildID == "" {
		return ErrEmptyID
	}
	if p.FamilyID == "" {
		return ErrEmptyFamily
	}
	if err := validateName(p.Name); err != nil {
		return err
	}
	if err := p.Category.Validate(); err != nil {
		return err
	}
	if err := validateStars(p.SuggestedStars); err != nil {
		return err
	}
	if p.AgreedStars != nil {
		if err := validateStars(*p.AgreedStars); err != nil {
			return err
		}
	}
	if err := validateText(p.Reason); err != nil {
		return err
	}
	return validateText(p.ParentComment)
}

func (t StarTransaction) Validate() error {
	if t.ID == "" || t.ChildID == "" {
		return ErrEmptyID
	}
	if t.FamilyID == "" {
		return ErrEmptyFamily
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := validateStars(t.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if len(t.Description) > maxDescriptionLength {
		return errors.New("description too long (max 200 characters)")
	}
	if t.Kind == KindEarn && t.SourceSubmissionID == "" {
		return ErrMissingSource
	}
	if t.Kind == KindRedeem && t.SourceRewardID == "" {
		return ErrMissingSource
	}
	return nil
}

// Signed returns the balance contribution of the transaction.
func (t StarTransaction) Signed() int64 {
	if t.Kind == KindRedeem {
		return -t.Amount
	}
	return t.Amount
}

func (r Reward) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.FamilyID == "" {
		return ErrEmptyFamily
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	return validateStars(r.Cost)
}

func (r RewardRedemption) Validate() error {
	if r.ID == "" || r.RewardID == "" || r.ChildID == "" {
		return ErrEmptyID
	}
	if r.FamilyID == "" {
		return ErrEmptyFamily
	}
	return validateStars(r.StarsSpent)
}
