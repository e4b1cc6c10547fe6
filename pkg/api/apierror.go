package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/qontrek/civos/pkg/classification"
	"github.com/qontrek/civos/pkg/confirmation"
)

const problemTypeBase = "https://civos.qontrek.my/problems/"

// ProblemType names a class of failure. It is the last path segment of the
// problem "type" URI, so clients can switch on it without parsing titles.
type ProblemType string

const (
	ProblemInvalidRequest       ProblemType = "invalid-request"
	ProblemInvalidProposal      ProblemType = "invalid-proposal"
	ProblemIdentityRequired     ProblemType = "identity-required"
	ProblemUnauthenticated      ProblemType = "unauthenticated"
	ProblemForbidden            ProblemType = "forbidden"
	ProblemNotFound             ProblemType = "not-found"
	ProblemActionNotFound       ProblemType = "action-not-found"
	ProblemMethodNotAllowed     ProblemType = "method-not-allowed"
	ProblemIllegalTransition    ProblemType = "illegal-transition"
	ProblemConfirmationTooEarly ProblemType = "confirmation-too-early"
	ProblemRateLimited          ProblemType = "rate-limited"
	ProblemInternal             ProblemType = "internal"
)

var problemTitles = map[ProblemType]string{
	ProblemInvalidRequest:       "Invalid request",
	ProblemInvalidProposal:      "Invalid proposal",
	ProblemIdentityRequired:     "Human identity required",
	ProblemUnauthenticated:      "Unauthorized",
	ProblemForbidden:            "Forbidden",
	ProblemNotFound:             "Not found",
	ProblemActionNotFound:       "Action not found",
	ProblemMethodNotAllowed:     "Method not allowed",
	ProblemIllegalTransition:    "Illegal state transition",
	ProblemConfirmationTooEarly: "Confirmation delay not elapsed",
	ProblemRateLimited:          "Too many requests",
	ProblemInternal:             "Internal server error",
}

// ProblemDetail is an RFC 7807 body with CIVOS extension members. Every
// error response uses this format.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID is the X-Request-ID of the failing request.
	TraceID string `json:"trace_id,omitempty"`

	ActionID      string     `json:"action_id,omitempty"`
	State         string     `json:"state,omitempty"`
	ConfirmableAt *time.Time `json:"confirmable_at,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Kind returns the problem type slug.
func (p *ProblemDetail) Kind() ProblemType {
	if len(p.Type) > len(problemTypeBase) {
		return ProblemType(p.Type[len(problemTypeBase):])
	}
	return ""
}

// NewProblem builds a problem of the given type.
func NewProblem(kind ProblemType, status int, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   problemTypeBase + string(kind),
		Title:  problemTitles[kind],
		Status: status,
		Detail: detail,
	}
}

// WriteProblem writes p, filling the request path and id.
func WriteProblem(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	p.TraceID = w.Header().Get(RequestIDHeader)
	if r != nil {
		p.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, NewProblem(ProblemInvalidRequest, http.StatusBadRequest, detail))
}

func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteProblem(w, r, NewProblem(ProblemUnauthenticated, http.StatusUnauthorized, detail))
}

func WriteForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteProblem(w, r, NewProblem(ProblemForbidden, http.StatusForbidden, detail))
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, NewProblem(ProblemNotFound, http.StatusNotFound, detail))
}

func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteProblem(w, r, NewProblem(ProblemMethodNotAllowed, http.StatusMethodNotAllowed,
		fmt.Sprintf("%s is not supported for %s", r.Method, r.URL.Path)))
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteProblem(w, r, NewProblem(ProblemRateLimited, http.StatusTooManyRequests,
		"Rate limit exceeded. Retry after the specified interval."))
}

// WriteInternal writes a 500. err is logged, never sent to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get(RequestIDHeader))
	WriteProblem(w, r, NewProblem(ProblemInternal, http.StatusInternalServerError,
		"An unexpected error occurred. Please try again later."))
}

// actionProblem maps a governance error, and the action it concerns, to a
// problem. It returns nil for errors that are not the caller's fault.
func actionProblem(err error, a confirmation.Action) *ProblemDetail {
	var (
		p  *ProblemDetail
		te *confirmation.TransitionError
	)
	switch {
	case errors.Is(err, confirmation.ErrNotFound):
		return NewProblem(ProblemActionNotFound, http.StatusNotFound, err.Error())
	case errors.As(err, &te):
		p = NewProblem(ProblemIllegalTransition, http.StatusConflict, err.Error())
		p.ActionID, p.State = te.ActionID, string(te.From)
		return p
	case errors.Is(err, confirmation.ErrConfirmationTooEarly):
		p = NewProblem(ProblemConfirmationTooEarly, http.StatusTooEarly, err.Error())
		if !a.ConfirmableAt.IsZero() {
			at := a.ConfirmableAt.UTC()
			p.ConfirmableAt = &at
		}
	case errors.Is(err, confirmation.ErrMissingIdentity):
		p = NewProblem(ProblemIdentityRequired, http.StatusBadRequest, err.Error())
	case errors.Is(err, confirmation.ErrInvalidProposal),
		errors.Is(err, classification.ErrNegativeSpend):
		p = NewProblem(ProblemInvalidProposal, http.StatusBadRequest, err.Error())
	case errors.Is(err, classification.ErrInvalidPhase):
		p = NewProblem(ProblemInvalidRequest, http.StatusBadRequest, err.Error())
	default:
		return nil
	}
	if a.ID != "" {
		p.ActionID, p.State = a.ID, string(a.State)
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
