package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stars/internal/core"
	"stars/internal/proposal"
	"stars/internal/redemption"
	"stars/internal/submission"
)

type (
	submissionRequest struct {
		ChildID    string `json:"child_id"`
		TemplateID string `json:"template_id"`
		Reflection string `json:"reflection"`
		// Draft opens the submission as pending instead of submitting it.
		Draft bool `json:"draft"`
	}

	reflectionRequest struct {
		Reflection string `json:"reflection"`
	}

	reviewRequest struct {
		ParentID string `json:"parent_id"`
		Message  string `json:"message"`
	}

	approvalResponse struct {
		Submission  core.TaskSubmission  `json:"submission"`
		Transaction core.StarTransaction `json:"transaction"`
	}

	proposalRequest struct {
		ChildID        string `json:"child_id"`
		Name           string `json:"name"`
		Category       string `json:"category"`
		SuggestedStars int64  `json:"suggested_stars"`
		Reason         string `json:"reason"`
	}

	commentRequest struct {
		Text        string `json:"text"`
		AgreedStars *int64 `json:"agreed_stars"`
	}

	decisionRequest struct {
		AgreedStars int64  `json:"agreed_stars"`
		Comment     string `json:"comment"`
	}

	rejectionRequest struct {
		Reason string `json:"reason"`
	}

	redeemRequest struct {
		ChildID  string `json:"child_id"`
		RewardID string `json:"reward_id"`
	}
)

// ─── Submissions ─────────────────────────────────────────────────────────────

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		sub core.TaskSubmission
		err error
	)
	if req.Draft {
		sub, err = s.engine.Submissions.Start(r.Context(), req.ChildID, req.TemplateID)
	} else {
		sub, err = s.engine.Submissions.Create(r.Context(), submission.CreateRequest{
			ChildID:    req.ChildID,
			TemplateID: req.TemplateID,
			Reflection: req.Reflection,
		})
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.engine.Submissions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleSubmitSubmission(w http.ResponseWriter, r *http.Request) {
	var req reflectionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.engine.Submissions.Submit(r.Context(), chi.URLParam(r, "id"), req.Reflection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleApproveSubmission(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, rec, err := s.engine.Submissions.Approve(r.Context(), chi.URLParam(r, "id"),
		submission.Review{ParentID: req.ParentID, Message: req.Message})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalResponse{Submission: sub, Transaction: rec})
}

func (s *Server) handleRejectSubmission(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.engine.Submissions.Reject(r.Context(), chi.URLParam(r, "id"),
		submission.Review{ParentID: req.ParentID, Message: req.Message})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleResubmitSubmission(w http.ResponseWriter, r *http.Request) {
	var req reflectionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.engine.Submissions.Resubmit(r.Context(), chi.URLParam(r, "id"), req.Reflection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := core.SubmissionStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, badRequest("unknown submission status %q", status))
		return
	}

	subs, err := s.engine.Submissions.List(r.Context(), submission.Filter{
		FamilyID: chi.URLParam(r, "familyID"),
		ChildID:  q.Get("child_id"),
		Status:   status,
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(subs))
}

// ─── Proposals ───────────────────────────────────────────────────────────────

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.Proposals.Create(r.Context(), proposal.CreateRequest{
		ChildID:        req.ChildID,
		Name:           req.Name,
		Category:       req.Category,
		SuggestedStars: req.SuggestedStars,
		Reason:         req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Proposals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCommentProposal(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.Proposals.Comment(r.Context(), chi.URLParam(r, "id"), req.Text, req.AgreedStars)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleApproveProposal(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.Proposals.Approve(r.Context(), chi.URLParam(r, "id"), req.AgreedStars, req.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	var req rejectionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.Proposals.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := core.ProposalStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, badRequest("unknown proposal status %q", status))
		return
	}

	ps, err := s.engine.Proposals.List(r.Context(), proposal.Filter{
		FamilyID: chi.URLParam(r, "familyID"),
		ChildID:  q.Get("child_id"),
		Status:   status,
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ps))
}

// ─── Redemptions ─────────────────────────────────────────────────────────────

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	red, err := s.engine.Redemptions.Redeem(r.Context(), req.ChildID, req.RewardID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

func (s *Server) handleGetRedemption(w http.ResponseWriter, r *http.Request) {
	red, err := s.engine.Redemptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	red, err := s.engine.Redemptions.Fulfill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

func (s *Server) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := core.RedemptionStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, badRequest("unknown redemption status %q", status))
		return
	}

	reds, err := s.engine.Redemptions.List(r.Context(), redemption.Filter{
		FamilyID: chi.URLParam(r, "familyID"),
		ChildID:  q.Get("child_id"),
		Status:   status,
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(reds))
}
