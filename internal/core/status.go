package core

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionApproved  SubmissionStatus = "approved"
	SubmissionRejected  SubmissionStatus = "rejected"
)

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalDiscussion ProposalStatus = "discussion"
	ProposalApproved   ProposalStatus = "approved"
	ProposalRejected   ProposalStatus = "rejected"
)

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
)

type (
	SubmissionStatus string
	ProposalStatus   string
	RedemptionStatus string
)

// A rejected submission is closed; re-doing the task creates a new
// submission rather than reopening this one.
var submissionTransitions = map[SubmissionStatus]map[SubmissionStatus]struct{}{
	SubmissionPending: {
		SubmissionSubmitted: {},
	},
	SubmissionSubmitted: {
		SubmissionApproved: {},
		SubmissionRejected: {},
	},
}

// discussion -> discussion is allowed: every parent comment re-enters it.
var proposalTransitions = map[ProposalStatus]map[ProposalStatus]struct{}{
	ProposalPending: {
		ProposalDiscussion: {},
		ProposalApproved:   {},
		ProposalRejected:   {},
	},
	ProposalDiscussion: {
		ProposalDiscussion: {},
		ProposalApproved:   {},
		ProposalRejected:   {},
	},
}

var redemptionTransitions = map[RedemptionStatus]map[RedemptionStatus]struct{}{
	RedemptionPending: {
		RedemptionFulfilled: {},
	},
}

func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionPending, SubmissionSubmitted, SubmissionApproved, SubmissionRejected:
		return true
	}
	return false
}

// CanTransition reports whether next is reachable from s in one step.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	_, ok := submissionTransitions[s][next]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s SubmissionStatus) Terminal() bool {
	return len(submissionTransitions[s]) == 0
}

func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalPending, ProposalDiscussion, ProposalApproved, ProposalRejected:
		return true
	}
	return false
}

func (s ProposalStatus) CanTransition(next ProposalStatus) bool {
	_, ok := proposalTransitions[s][next]
	return ok
}

func (s ProposalStatus) Terminal() bool {
	return len(proposalTransitions[s]) == 0
}

func (s RedemptionStatus) Valid() bool {
	return s == RedemptionPending || s == RedemptionFulfilled
}

func (s RedemptionStatus) CanTransition(next RedemptionStatus) bool {
	_, ok := redemptionTransitions[s][next]
	return ok
}
