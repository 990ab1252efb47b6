package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"stars/internal/core"
	"stars/internal/log"
	"stars/internal/report"
	"stars/internal/store"
)

const (
	maxBodyBytes = 64 << 10
	dateLayout   = "2006-01-02"
)

// errBadRequest marks malformed input that never reached the engine.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Balance   *int64 `json:"balance,omitempty"`
	Required  *int64 `json:"required,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors onto HTTP statuses and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, core.ErrTemplateInactive):
		return http.StatusUnprocessableEntity, "template_inactive"
	case errors.Is(err, core.ErrRewardInactive):
		return http.StatusUnprocessableEntity, "reward_inactive"
	case errors.Is(err, core.ErrAlreadyApproved),
		errors.Is(err, core.ErrDuplicateCredit):
		return http.StatusConflict, "already_approved"
	case errors.Is(err, core.ErrAlreadyFulfilled):
		return http.StatusConflict, "already_fulfilled"
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, core.ErrMissingReason),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrNameTooLong),
		errors.Is(err, core.ErrTextTooLong),
		errors.Is(err, core.ErrInvalidStars),
		errors.Is(err, core.ErrInvalidCategory),
		errors.Is(err, core.ErrEmptyID),
		errors.Is(err, core.ErrEmptyFamily),
		errors.Is(err, report.ErrInvalidWindow):
		return http.StatusBadRequest, "validation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: err.Error(), Code: code, RequestID: middleware.GetReqID(r.Context())}

	var ibe *core.InsufficientBalanceError
	if errors.As(err, &ibe) {
		body.Balance, body.Required = &ibe.Balance, &ibe.Requested
	}

	if status >= http.StatusInternalServerError {
		ctx := r.Context()
		log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, "Request failed", err,
			r.Method, log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, "", "", ""))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a single JSON object into v, refusing unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("empty body")
		}
		return badRequest("invalid JSON: %v", err)
	}
	return nil
}

// parseTime accepts RFC 3339 timestamps or bare dates, which are read as
// midnight in s.loc. An empty value yields the zero time.
func (s *Server) parseTime(name, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, badRequest("%s: want YYYY-MM-DD or RFC 3339, got %q", name, v)
	}
	return t, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("limit must be a non-negative integer")
	}
	return n, nil
}

// nonNil keeps empty listings encoding as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
