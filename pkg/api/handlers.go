package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qontrek/civos/pkg/classification"
	"github.com/qontrek/civos/pkg/confirmation"
	"github.com/qontrek/civos/pkg/contracts"
	"github.com/qontrek/civos/pkg/ledger"
)

type classifyResponse struct {
	Classification contracts.ClassificationResult `json:"classification"`
	Budget         contracts.BudgetDecision       `json:"budget"`
}

type vocabularyRequest struct {
	Text string `json:"text"`
}

type declineRequest struct {
	Reason string `json:"reason"`
}

type frictionRequest struct {
	Phase contracts.FrictionPhase `json:"phase"`
}

type frictionResponse struct {
	Phase        contracts.FrictionPhase `json:"phase"`
	DelaySeconds float64                 `json:"delay_seconds"`
}

type verifyResponse struct {
	Valid    bool    `json:"valid"`
	Entries  int     `json:"entries"`
	Head     string  `json:"head"`
	Error    string  `json:"error,omitempty"`
	Sequence *uint64 `json:"sequence,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClassify is a dry run: nothing is recorded.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classification.Context
	if err := decodeValid(w, r, schemaClassify, &req, false); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	decision := s.deps.Budget.Check(req.EstimatedSpend)
	result, err := s.deps.Engine.ClassifyWithCFO(req, decision)
	if err != nil {
		s.writeActionError(w, r, err, confirmation.Action{})
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Classification: result, Budget: decision})
}

func (s *Server) handleVocabularyCheck(w http.ResponseWriter, r *http.Request) {
	var req vocabularyRequest
	if err := decodeValid(w, r, schemaVocabulary, &req, false); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Vocabulary.Check(req.Text))
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req confirmation.Proposal
	if err := decodeValid(w, r, schemaProposal, &req, false); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	// Proposals over the API come from the AI agent; the caller's identity is
	// kept in the proof context instead of trusting a body field.
	req.Actor = contracts.ActorAI
	if p, err := GetPrincipal(r.Context()); err == nil {
		if req.Context == nil {
			req.Context = make(map[string]any, 1)
		}
		req.Context["proposed_by"] = p.ID
	}
	action, err := s.deps.Coordinator.Propose(r.Context(), req)
	if err != nil {
		s.writeActionError(w, r, err, action)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	var state confirmation.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		st, err := confirmation.ParseState(raw)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		state = st
	}
	writeJSON(w, http.StatusOK, s.deps.Coordinator.List(state))
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.deps.Coordinator.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeActionError(w, r, err, action)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	p, _ := GetPrincipal(r.Context())
	action, err := s.deps.Coordinator.Confirm(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		s.writeActionError(w, r, err, action)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if err := decodeValid(w, r, schemaDecline, &req, true); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	p, _ := GetPrincipal(r.Context())
	action, err := s.deps.Coordinator.Decline(r.Context(), chi.URLParam(r, "id"), p.ID, req.Reason)
	if err != nil {
		s.writeActionError(w, r, err, action)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ledger.List())
}

func (s *Server) handleLedgerVerify(w http.ResponseWriter, _ *http.Request) {
	resp := verifyResponse{Valid: true, Entries: s.deps.Ledger.Len(), Head: s.deps.Ledger.Head()}
	if err := s.deps.Ledger.Verify(); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
		var ce *ledger.ChainError
		if errors.As(err, &ce) {
			seq := ce.Sequence
			resp.Sequence = &seq
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBudget(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Budget.Summary())
}

func (s *Server) frictionState() frictionResponse {
	return frictionResponse{
		Phase:        s.deps.Engine.FrictionPhase(),
		DelaySeconds: s.deps.Engine.ConfirmationDelay().Seconds(),
	}
}

func (s *Server) handleGetFriction(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.frictionState())
}

func (s *Server) handleSetFriction(w http.ResponseWriter, r *http.Request) {
	var req frictionRequest
	if err := decodeValid(w, r, schemaFriction, &req, false); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	p, _ := GetPrincipal(r.Context())
	if err := s.deps.Coordinator.SetFrictionPhase(r.Context(), req.Phase, p.ID); err != nil {
		s.writeActionError(w, r, err, confirmation.Action{})
		return
	}
	writeJSON(w, http.StatusOK, s.frictionState())
}

// writeActionError writes the problem for err. Failures that are not the
// caller's fault are 500s that still name the action and its state, since an
// action may have executed even though recording it failed.
func (s *Server) writeActionError(w http.ResponseWriter, r *http.Request, err error, a confirmation.Action) {
	if p := actionProblem(err, a); p != nil {
		WriteProblem(w, r, p)
		return
	}
	s.logger.ErrorContext(r.Context(), "governance operation failed",
		"error", err, "action_id", a.ID, "state", a.State, "request_id", GetRequestID(r.Context()))
	p := NewProblem(ProblemInternal, http.StatusInternalServerError,
		"The operation could not be fully recorded. Check the action state before retrying.")
	if a.ID != "" {
		p.ActionID, p.State = a.ID, string(a.State)
	}
	WriteProblem(w, r, p)
}
