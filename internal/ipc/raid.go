package ipc

import (
	"net/http"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/raid"
)

// StartRaid handles POST /api/v1/raids.
func (h *Handler) StartRaid(w http.ResponseWriter, r *http.Request) {
	var req raid.StartInput
	if !decode(w, r, &req) {
		return
	}
	rd, err := h.Raids.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

// GetRaid handles GET /api/v1/raids/{raidID}. Reading a raid runs its timed
// effects first so the caller never sees a stale charge bar or deadline.
func (h *Handler) GetRaid(w http.ResponseWriter, r *http.Request) {
	res, err := h.Raids.Tick(r.Context(), r.PathValue("raidID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Raid)
}

// ListRaidMembers handles GET /api/v1/raids/{raidID}/members.
func (h *Handler) ListRaidMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Raids.ListMembers(r.Context(), r.PathValue("raidID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if members == nil {
		members = []domain.RaidMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

// JoinRaid handles POST /api/v1/raids/{raidID}/join.
func (h *Handler) JoinRaid(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	if err := h.Raids.Join(r.Context(), r.PathValue("raidID"), playerID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaveRaid handles POST /api/v1/raids/{raidID}/leave.
func (h *Handler) LeaveRaid(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	applied, err := h.Raids.Leave(r.Context(), r.PathValue("raidID"), playerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

// TickRaid handles POST /api/v1/raids/{raidID}/tick.
func (h *Handler) TickRaid(w http.ResponseWriter, r *http.Request) {
	res, err := h.Raids.Tick(r.Context(), r.PathValue("raidID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SweepRaid handles POST /api/v1/raids/{raidID}/sweep.
func (h *Handler) SweepRaid(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	res, err := h.Raids.CheckDailyOverdueSweep(r.Context(), r.PathValue("raidID"), playerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListRaidEvents handles GET /api/v1/raids/{raidID}/events?since_seq=N.
func (h *Handler) ListRaidEvents(w http.ResponseWriter, r *http.Request) {
	raidID := r.PathValue("raidID")
	if _, err := h.Raids.Get(r.Context(), raidID); err != nil {
		h.writeError(w, err)
		return
	}
	events, err := h.Raids.Log(r.Context(), raidID, sinceSeq(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.GameEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// StreamRaidEvents handles GET /api/v1/raids/{raidID}/events/stream (SSE).
func (h *Handler) StreamRaidEvents(w http.ResponseWriter, r *http.Request) {
	raidID := r.PathValue("raidID")
	if _, err := h.Raids.Get(r.Context(), raidID); err != nil {
		h.writeError(w, err)
		return
	}
	h.streamEvents(w, r, domain.RaidStream(raidID), func(r *http.Request, since int64) ([]domain.GameEvent, error) {
		return h.Raids.Log(r.Context(), raidID, since)
	})
}
