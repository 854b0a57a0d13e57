package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jwebster45206/boothill-gm/internal/services/events"
	"github.com/jwebster45206/boothill-gm/internal/services/queue"
	"github.com/jwebster45206/boothill-gm/internal/worker"
	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
	queuePkg "github.com/jwebster45206/boothill-gm/pkg/queue"
	"github.com/jwebster45206/boothill-gm/pkg/session"
	"github.com/jwebster45206/boothill-gm/pkg/storage"
)

// CreateSessionRequest starts a game. CharacterID picks a preset; Character
// overrides it.
type CreateSessionRequest struct {
	CharacterID  string             `json:"character_id,omitempty"`
	Character    *engine.Character  `json:"character,omitempty"`
	Location     *decision.Location `json:"location,omitempty"`
	WorldContext string             `json:"world_context,omitempty"`
}

// NarrativeResponse is the result of POST /v1/sessions/{id}/narrative.
// Decision is set when one was generated synchronously; RequestID when
// generation was queued.
type NarrativeResponse struct {
	Update    session.NarrativeUpdate  `json:"update"`
	Detection engine.Detection         `json:"detection"`
	Decision  *decision.PlayerDecision `json:"decision,omitempty"`
	Discarded string                   `json:"discarded,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
}

// GenerateRequest asks for a decision regardless of detection.
type GenerateRequest struct {
	Async bool `json:"async,omitempty"`
}

// DecisionResponse carries the pending decision, if any.
type DecisionResponse struct {
	Decision  *decision.PlayerDecision `json:"decision"`
	Discarded string                   `json:"discarded,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
}

// SelectRequest is the player's choice for a pending decision.
type SelectRequest struct {
	OptionID string `json:"option_id"`
	Outcome  string `json:"outcome,omitempty"`
}

// SelectResponse is the resolved record and the session's impacts after it.
type SelectResponse struct {
	Record      *impact.RecordWithImpact `json:"record"`
	ImpactState impact.State             `json:"impact_state"`
	Reconciled  []impact.DecisionImpact  `json:"reconciled"`
}

// EvolveResponse reports whether evolution changed the impact state.
type EvolveResponse struct {
	Changed     bool          `json:"changed"`
	ImpactState *impact.State `json:"impact_state,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
}

// ImpactsResponse is the session's impact state and the reconciled view.
type ImpactsResponse struct {
	ImpactState impact.State            `json:"impact_state"`
	Reconciled  []impact.DecisionImpact `json:"reconciled"`
}

// SessionHandler serves the session API. With a nil queue every operation
// runs synchronously.
type SessionHandler struct {
	processor   *worker.DecisionProcessor
	storage     storage.Storage
	queue       *queue.DecisionQueue
	broadcaster *events.Broadcaster
	maxTokens   int
	logger      *slog.Logger
	now         func() time.Time
}

// NewSessionHandler creates a session handler. queue and broadcaster may be nil.
func NewSessionHandler(processor *worker.DecisionProcessor, storage storage.Storage, q *queue.DecisionQueue, broadcaster *events.Broadcaster, maxTokens int, logger *slog.Logger) *SessionHandler {
	if maxTokens <= 0 {
		maxTokens = narrative.DefaultMaxTokens
	}
	return &SessionHandler{
		processor:   processor,
		storage:     storage,
		queue:       q,
		broadcaster: broadcaster,
		maxTokens:   maxTokens,
		logger:      logger,
		now:         time.Now,
	}
}

// fail maps processing errors to status codes
func (h *SessionHandler) fail(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		writeError(w, h.logger, http.StatusNotFound, "Session not found")
	case errors.Is(err, decision.ErrOptionNotFound):
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNoPendingDecision), errors.Is(err, engine.ErrStaleDecision):
		writeError(w, h.logger, http.StatusConflict, err.Error())
	default:
		log.Error("Session request failed", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "")
	}
}

func (h *SessionHandler) requestLog(r *http.Request) (string, *slog.Logger) {
	id := chi.URLParam(r, "sessionID")
	return id, h.logger.With("session_id", id)
}

// Create handles POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("Invalid create session body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	var character engine.Character
	if req.CharacterID != "" {
		c, err := h.storage.GetCharacter(r.Context(), req.CharacterID)
		if err != nil {
			h.logger.Warn("Unknown character preset", "error", err, "character_id", req.CharacterID)
			writeError(w, h.logger, http.StatusBadRequest, "Unknown character: "+req.CharacterID)
			return
		}
		character = *c
	}
	if req.Character != nil {
		character = *req.Character
	}

	s := session.New(character, req.Location, req.WorldContext, h.now())
	if err := h.storage.SaveSession(r.Context(), s); err != nil {
		h.logger.Error("Failed to save new session", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to create session")
		return
	}

	h.logger.Info("Session created", "session_id", s.ID, "character", s.Character.Name)
	writeJSON(w, h.logger, http.StatusCreated, s)
}

// Get handles GET /v1/sessions/{sessionID}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)
	s, err := h.processor.Load(r.Context(), id)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, s)
}

// Delete handles DELETE /v1/sessions/{sessionID}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)
	if err := h.storage.DeleteSession(r.Context(), id); err != nil {
		h.fail(w, log, err)
		return
	}
	if h.queue != nil {
		if err := h.queue.Clear(r.Context(), id); err != nil {
			log.Warn("Failed to clear latest request marker", "error", err)
		}
	}
	log.Info("Session deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Narrative handles POST /v1/sessions/{sessionID}/narrative
func (h *SessionHandler) Narrative(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)

	var req chat.NarrativeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.Warn("Invalid narrative body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'text' field.")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.processor.RecordNarrative(r.Context(), id, req.Text, req.Speaker)
	if err != nil {
		h.fail(w, log, err)
		return
	}

	resp := NarrativeResponse{Update: res.Update, Detection: res.Detection}
	if !res.Detection.ShouldPresent {
		writeJSON(w, h.logger, http.StatusOK, resp)
		return
	}

	dr, status, err := h.generate(r.Context(), id, req.Async, log)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	resp.Decision, resp.Discarded, resp.RequestID = dr.Decision, dr.Discarded, dr.RequestID
	writeJSON(w, h.logger, status, resp)
}

// generate produces a decision now, or queues the request when async is set
// and a queue is available.
func (h *SessionHandler) generate(ctx context.Context, sessionID string, async bool, log *slog.Logger) (DecisionResponse, int, error) {
	requestedAt := h.now()

	if async && h.queue != nil {
		req := queuePkg.NewRequest(queuePkg.RequestTypeDecision, sessionID, requestedAt)
		if err := h.queue.EnqueueRequest(ctx, req); err != nil {
			return DecisionResponse{}, 0, err
		}
		if h.broadcaster != nil {
			if err := h.broadcaster.PublishDecisionQueued(ctx, sessionID, req.RequestID); err != nil {
				log.Warn("Failed to publish queued event", "error", err)
			}
		}
		log.Info("Decision request queued", "request_id", req.RequestID)
		return DecisionResponse{RequestID: req.RequestID}, http.StatusAccepted, nil
	}

	gen, err := h.processor.GenerateDecision(ctx, sessionID, requestedAt, time.Time{})
	if err != nil {
		return DecisionResponse{}, 0, err
	}
	if gen.Discarded() {
		return DecisionResponse{Decision: gen.Session.Pending(), Discarded: gen.Reason}, http.StatusOK, nil
	}
	if h.broadcaster != nil {
		if err := h.broadcaster.PublishDecisionPresented(ctx, sessionID, "", gen.Decision); err != nil {
			log.Warn("Failed to publish decision event", "error", err)
		}
	}
	return DecisionResponse{Decision: gen.Decision}, http.StatusOK, nil
}

// PendingDecision handles GET /v1/sessions/{sessionID}/decision
func (h *SessionHandler) PendingDecision(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)
	s, err := h.processor.Load(r.Context(), id)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, DecisionResponse{Decision: s.Pending()})
}

// GenerateDecision handles POST /v1/sessions/{sessionID}/decisions
func (h *SessionHandler) GenerateDecision(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)

	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	dr, status, err := h.generate(r.Context(), id, req.Async, log)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	writeJSON(w, h.logger, status, dr)
}

// Select handles POST /v1/sessions/{sessionID}/decisions/{decisionID}/select
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)
	decisionID := chi.URLParam(r, "decisionID")

	var req SelectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'option_id' field.")
		return
	}
	if req.OptionID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "option_id is required")
		return
	}

	s, rec, err := h.processor.SelectOption(r.Context(), id, decisionID, req.OptionID, req.Outcome)
	if err != nil {
		h.fail(w, log, err)
		return
	}

	if h.broadcaster != nil {
		if err := h.broadcaster.PublishDecisionResolved(r.Context(), id, decisionID, req.OptionID, len(rec.Impacts)); err != nil {
			log.Warn("Failed to publish resolved event", "error", err)
		}
	}

	writeJSON(w, h.logger, http.StatusOK, SelectResponse{
		Record:      rec,
		ImpactState: s.Narrative.ImpactState,
		Reconciled:  reconciled(s),
	})
}

// Evolve handles POST /v1/sessions/{sessionID}/evolve
func (h *SessionHandler) Evolve(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)

	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Async && h.queue != nil {
		qr := queuePkg.NewRequest(queuePkg.RequestTypeEvolve, id, h.now())
		if err := h.queue.EnqueueRequest(r.Context(), qr); err != nil {
			h.fail(w, log, err)
			return
		}
		writeJSON(w, h.logger, http.StatusAccepted, EvolveResponse{RequestID: qr.RequestID})
		return
	}

	s, changed, err := h.processor.Evolve(r.Context(), id)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	if h.broadcaster != nil && changed {
		if err := h.broadcaster.PublishSessionEvolved(r.Context(), id, "", changed); err != nil {
			log.Warn("Failed to publish evolve event", "error", err)
		}
	}
	writeJSON(w, h.logger, http.StatusOK, EvolveResponse{Changed: changed, ImpactState: &s.Narrative.ImpactState})
}

// Context handles GET /v1/sessions/{sessionID}/context?maxTokens=&compression=
func (h *SessionHandler) Context(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)

	maxTokens := h.maxTokens
	if v := r.URL.Query().Get("maxTokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "maxTokens must be a positive integer")
			return
		}
		maxTokens = n
	}
	level := narrative.ParseLevel(r.URL.Query().Get("compression"))

	res, err := h.processor.Context(r.Context(), id, maxTokens, level)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Impacts handles GET /v1/sessions/{sessionID}/impacts
func (h *SessionHandler) Impacts(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)
	s, err := h.processor.Load(r.Context(), id)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ImpactsResponse{
		ImpactState: s.Narrative.ImpactState,
		Reconciled:  reconciled(s),
	})
}

// Reconciled handles GET /v1/sessions/{sessionID}/impacts/reconciled
func (h *SessionHandler) Reconciled(w http.ResponseWriter, r *http.Request) {
	id, log := h.requestLog(r)
	s, err := h.processor.Load(r.Context(), id)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, reconciled(s))
}

func reconciled(s *session.Session) []impact.DecisionImpact {
	out := s.ReconciledImpacts()
	if out == nil {
		out = []impact.DecisionImpact{}
	}
	return out
}
