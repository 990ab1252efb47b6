package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrTemplateInactive  = errors.New("task template is inactive")
	ErrRewardInactive    = errors.New("reward is inactive")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyApproved and ErrDuplicateCredit signal an idempotent no-op:
	// the ledger already holds the credit, nothing was changed.
	ErrAlreadyApproved  = errors.New("submission already approved")
	ErrDuplicateCredit  = errors.New("submission already credited")
	ErrAlreadyFulfilled = errors.New("redemption already fulfilled")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingReason       = errors.New("a reason is required")
)

// TransitionError reports a status change that is not legal from the
// current status.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// InsufficientBalanceError is the normal negative result of a redemption
// the child cannot afford.
type InsufficientBalanceError struct {
	ChildID   string
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("child %s has %d stars, %d requested", e.ChildID, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// IsIdempotent reports whether err only signals that the operation had
// already been applied.
func IsIdempotent(err error) bool {
	return errors.Is(err, ErrAlreadyApproved) ||
		errors.Is(err, ErrDuplicateCredit) ||
		errors.Is(err, ErrAlreadyFulfilled)
}
