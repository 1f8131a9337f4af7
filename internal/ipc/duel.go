package ipc

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/duel"
	"github.com/rogers-f/taskraid/internal/evidence"
)

// ChallengeRequest is the body for POST /api/v1/duels.
type ChallengeRequest struct {
	ChallengerID string `json:"challenger_id"`
	ChallengedID string `json:"challenged_id"`
}

// SelectRequest is the body for POST /api/v1/duels/{duelID}/selections.
type SelectRequest struct {
	PlayerID string `json:"player_id"`
	TaskID   string `json:"task_id"`
}

// ContestRequest is the body for POST .../selections/{selectionID}/contest.
type ContestRequest struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
}

// Challenge handles POST /api/v1/duels.
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Duels.Challenge(r.Context(), req.ChallengerID, req.ChallengedID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDuel handles GET /api/v1/duels/{duelID}.
func (h *Handler) GetDuel(w http.ResponseWriter, r *http.Request) {
	d, err := h.Duels.Get(r.Context(), r.PathValue("duelID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListPlayerDuels handles GET /api/v1/players/{playerID}/duels.
func (h *Handler) ListPlayerDuels(w http.ResponseWriter, r *http.Request) {
	duels, err := h.Duels.ListForPlayer(r.Context(), r.PathValue("playerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if duels == nil {
		duels = []domain.Duel{}
	}
	writeJSON(w, http.StatusOK, duels)
}

type duelAction func(ctx context.Context, duelID, playerID string) (*domain.Duel, error)

// DuelAction returns a handler for a player-initiated status change such as
// POST /api/v1/duels/{duelID}/accept.
func (h *Handler) DuelAction(action duelAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := requirePlayer(w, r)
		if !ok {
			return
		}
		d, err := action(r.Context(), r.PathValue("duelID"), playerID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// ListSelections handles GET /api/v1/duels/{duelID}/selections?player_id=.
func (h *Handler) ListSelections(w http.ResponseWriter, r *http.Request) {
	sels, err := h.Duels.ListSelections(r.Context(), r.PathValue("duelID"), r.URL.Query().Get("player_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sels == nil {
		sels = []domain.DuelSelection{}
	}
	writeJSON(w, http.StatusOK, sels)
}

// SelectTask handles POST /api/v1/duels/{duelID}/selections.
func (h *Handler) SelectTask(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if !decode(w, r, &req) {
		return
	}
	sel, err := h.Duels.SelectTask(r.Context(), r.PathValue("duelID"), req.PlayerID, req.TaskID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sel)
}

// UnselectTask handles DELETE /api/v1/duels/{duelID}/selections/{selectionID}?player_id=.
func (h *Handler) UnselectTask(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "player_id is required"})
		return
	}
	if err := h.Duels.UnselectTask(r.Context(), r.PathValue("duelID"), playerID, r.PathValue("selectionID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitEvidence handles POST /api/v1/duels/{duelID}/selections/{selectionID}/evidence.
// The body is multipart form data with a player_id field and an image file.
func (h *Handler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, evidence.MaxSize+1<<20)
	if err := r.ParseMultipartForm(evidence.MaxSize); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid multipart body"})
		return
	}
	playerID := r.FormValue("player_id")
	if playerID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "player_id is required"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "image is required"})
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "read image"})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(image)
	}

	res, err := h.Duels.SubmitEvidence(r.Context(), duel.Submission{
		DuelID:      r.PathValue("duelID"),
		PlayerID:    playerID,
		SelectionID: r.PathValue("selectionID"),
		Image:       image,
		ContentType: contentType,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Contest handles POST /api/v1/duels/{duelID}/selections/{selectionID}/contest.
func (h *Handler) Contest(w http.ResponseWriter, r *http.Request) {
	var req ContestRequest
	if !decode(w, r, &req) {
		return
	}
	sel, err := h.Duels.Contest(r.Context(), r.PathValue("duelID"), req.PlayerID, r.PathValue("selectionID"), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// AuditTrail handles GET /api/v1/duels/{duelID}/selections/{selectionID}/audit.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Duels.AuditTrail(r.Context(), r.PathValue("selectionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetSnapshot handles GET /api/v1/duels/{duelID}/snapshots/{status}.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Duels.Snapshot(r.Context(), r.PathValue("duelID"), domain.DuelStatus(r.PathValue("status")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: "no snapshot for that status"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListDuelEvents handles GET /api/v1/duels/{duelID}/events?since_seq=N.
func (h *Handler) ListDuelEvents(w http.ResponseWriter, r *http.Request) {
	duelID := r.PathValue("duelID")
	if _, err := h.Duels.Get(r.Context(), duelID); err != nil {
		h.writeError(w, err)
		return
	}
	events, err := h.Duels.History(r.Context(), duelID, sinceSeq(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.GameEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// StreamDuelEvents handles GET /api/v1/duels/{duelID}/events/stream (SSE).
func (h *Handler) StreamDuelEvents(w http.ResponseWriter, r *http.Request) {
	duelID := r.PathValue("duelID")
	if _, err := h.Duels.Get(r.Context(), duelID); err != nil {
		h.writeError(w, err)
		return
	}
	h.streamEvents(w, r, domain.DuelStream(duelID), func(r *http.Request, since int64) ([]domain.GameEvent, error) {
		return h.Duels.History(r.Context(), duelID, since)
	})
}

// GetEvidence handles GET /api/v1/evidence/{duelID}/{file}.
func (h *Handler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("duelID") + "/" + r.PathValue("file")
	rc, err := h.Evidence.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: "evidence not found"})
			return
		}
		h.writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", evidence.ContentType(key))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	io.Copy(w, rc)
}
