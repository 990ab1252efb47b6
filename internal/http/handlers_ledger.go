package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stars/internal/ledger"
	"stars/internal/report"
)

type balanceResponse struct {
	ChildID string `json:"child_id"`
	Balance int64  `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	childID := chi.URLParam(r, "childID")
	balance, err := s.engine.Balance(r.Context(), childID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{ChildID: childID, Balance: balance})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := s.parseTime("from", q.Get("from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := s.parseTime("to", q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		s.writeError(w, r, badRequest("to is before from"))
		return
	}

	history, err := s.engine.Ledger.History(r.Context(), chi.URLParam(r, "childID"), ledger.Range{From: from, To: to})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(history))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := s.parseTime("from", q.Get("from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := s.parseTime("to", q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rep, err := s.engine.Reports.Summarize(r.Context(), chi.URLParam(r, "childID"), report.Window{From: from, To: to})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleWeeklyReport(w http.ResponseWriter, r *http.Request) {
	start, err := s.parseTime("start", r.URL.Query().Get("start"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if start.IsZero() {
		s.writeError(w, r, badRequest("start is required"))
		return
	}

	rep, err := s.engine.Reports.Weekly(r.Context(), chi.URLParam(r, "childID"), start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
