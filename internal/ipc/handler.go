// Package ipc provides the HTTP API for taskraid.
package ipc

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/duel"
	"github.com/rogers-f/taskraid/internal/evidence"
	"github.com/rogers-f/taskraid/internal/notify"
	"github.com/rogers-f/taskraid/internal/quest"
	"github.com/rogers-f/taskraid/internal/raid"
)

// DefaultPollInterval is how often an event stream re-reads its log when no
// change signal arrives.
const DefaultPollInterval = 2 * time.Second

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Quest    *quest.Service
	Raids    *raid.Engine
	Duels    *duel.Engine
	Evidence *evidence.Store
	Broker   notify.Broker
	Logger   *log.Logger

	// PollInterval bounds how stale an event stream can get when the broker
	// drops a signal.
	PollInterval time.Duration
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlayerRequest is the body of raid and duel actions taken by one player.
type PlayerRequest struct {
	PlayerID string `json:"player_id"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Quest.DB.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, APIError{Code: 503, Message: "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreatePlayer handles POST /api/v1/players.
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req quest.NewPlayer
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Quest.CreatePlayer(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPlayers handles GET /api/v1/players.
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := h.Quest.ListPlayers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if players == nil {
		players = []domain.Player{}
	}
	writeJSON(w, http.StatusOK, players)
}

// GetPlayer handles GET /api/v1/players/{playerID}.
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := h.Quest.GetPlayer(r.Context(), r.PathValue("playerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PlayerLedger handles GET /api/v1/players/{playerID}/ledger.
func (h *Handler) PlayerLedger(w http.ResponseWriter, r *http.Request) {
	deltas, err := h.Quest.History(r.Context(), r.PathValue("playerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if deltas == nil {
		deltas = []domain.RewardDelta{}
	}
	writeJSON(w, http.StatusOK, deltas)
}

// AssignRequest is the body for POST /api/v1/players/{playerID}/attributes.
type AssignRequest struct {
	Attribute string `json:"attribute"`
}

// AssignPoint handles POST /api/v1/players/{playerID}/attributes.
func (h *Handler) AssignPoint(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Quest.AssignPoint(r.Context(), r.PathValue("playerID"), req.Attribute)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListTasks handles GET /api/v1/players/{playerID}/tasks?status=pending.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := h.Quest.ListTasks(r.Context(), r.PathValue("playerID"), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/v1/tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req quest.NewTask
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Quest.CreateTask(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask handles GET /api/v1/tasks/{taskID}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Quest.GetTask(r.Context(), r.PathValue("taskID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CompleteTask handles POST /api/v1/tasks/{taskID}/complete.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	res, err := h.Quest.CompleteTask(r.Context(), r.PathValue("taskID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FailResponse is the response for POST /api/v1/tasks/{taskID}/fail.
type FailResponse struct {
	Task   *domain.Task `json:"task"`
	HPLost int          `json:"hp_lost"`
}

// FailTask handles POST /api/v1/tasks/{taskID}/fail.
func (h *Handler) FailTask(w http.ResponseWriter, r *http.Request) {
	t, applied, err := h.Quest.FailTask(r.Context(), r.PathValue("taskID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FailResponse{Task: t, HPLost: -applied.HP})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return false
	}
	return true
}

func requirePlayer(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req PlayerRequest
	if !decode(w, r, &req) {
		return "", false
	}
	if req.PlayerID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "player_id is required"})
		return "", false
	}
	return req.PlayerID, true
}

func sinceSeq(r *http.Request) int64 {
	if s := r.URL.Query().Get("since_seq"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		writeJSON(w, statusFor(engErr.Code), APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	if h.Logger != nil {
		h.Logger.Printf("ipc: internal error: %v", err)
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func statusFor(code int) int {
	switch code {
	case domain.ErrPlayerNotFound.Code, domain.ErrTaskNotFound.Code, domain.ErrRaidNotFound.Code,
		domain.ErrDuelNotFound.Code, domain.ErrMemberNotFound.Code, domain.ErrSelectionNotFound.Code:
		return http.StatusNotFound
	case domain.ErrInvalidInput.Code, domain.ErrInvalidDifficulty.Code, domain.ErrInvalidClass.Code,
		domain.ErrInvalidTransition.Code, domain.ErrTaskNotEligible.Code, domain.ErrSelectionFull.Code,
		domain.ErrSelectionIncomplete.Code, domain.ErrSelfChallenge.Code, domain.ErrEvidenceRejected.Code:
		return http.StatusUnprocessableEntity
	case domain.ErrWrongPhase.Code, domain.ErrSelectionLocked.Code, domain.ErrTaskDuelBound.Code,
		domain.ErrAlreadyMember.Code, domain.ErrAlreadyContested.Code, domain.ErrAlreadyInDuel.Code,
		domain.ErrOptimisticLock.Code, domain.ErrDuplicate.Code, domain.ErrCheckInProgress.Code,
		domain.ErrRaidClosed.Code, domain.ErrDuelClosed.Code, domain.ErrTaskFinished.Code:
		return http.StatusConflict
	case domain.ErrNotParticipant.Code:
		return http.StatusForbidden
	case domain.ErrRateLimitExceeded.Code:
		return http.StatusTooManyRequests
	case domain.ErrJudgeBadResponse.Code:
		return http.StatusBadGateway
	case domain.ErrJudgeUnavailable.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
