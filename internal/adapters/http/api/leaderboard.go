package api

import (
	"context"
	"net/http"
)

// LeaderboardDependencies defines the read operations over a whole board.
type LeaderboardDependencies interface {
	Top(ctx context.Context, board string, n int) ([]Entry, error)
	TopMembers(ctx context.Context, board string, n int) ([]string, error)
	Around(ctx context.Context, board, member string, radius int) ([]Entry, error)
	RangeByScore(ctx context.Context, board string, minScore, maxScore float64) ([]Entry, error)
	Count(ctx context.Context, board string) (int, error)
}

// LeaderboardHandler handles ranked reads.
type LeaderboardHandler struct {
	deps   LeaderboardDependencies
	limits limits
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, l limits) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps, limits: l}
}

// HandleTop handles GET /top?count=N requests.
func (h *LeaderboardHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	const op = "api.top"
	n, err := h.limits.count(r, h.limits.defaultTop)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	entries, err := h.deps.Top(r.Context(), board(r), n)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleTopMembers handles GET /top/members?count=N requests.
func (h *LeaderboardHandler) HandleTopMembers(w http.ResponseWriter, r *http.Request) {
	const op = "api.top_members"
	n, err := h.limits.count(r, h.limits.defaultTop)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	members, err := h.deps.TopMembers(r.Context(), board(r), n)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleAround handles GET /member/{id}/around?count=N requests.
func (h *LeaderboardHandler) HandleAround(w http.ResponseWriter, r *http.Request) {
	const op = "api.around"
	n, err := h.limits.count(r, h.limits.defaultAround)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	entries, err := h.deps.Around(r.Context(), board(r), r.PathValue("id"), n)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleRange handles GET /range?min=&max= requests. Bounds are inclusive.
func (h *LeaderboardHandler) HandleRange(w http.ResponseWriter, r *http.Request) {
	const op = "api.range"
	minScore, err := queryFloat(r, "min")
	if err != nil {
		fail(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	maxScore, err := queryFloat(r, "max")
	if err != nil {
		fail(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	entries, err := h.deps.RangeByScore(r.Context(), board(r), minScore, maxScore)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleTotal handles GET /total requests.
func (h *LeaderboardHandler) HandleTotal(w http.ResponseWriter, r *http.Request) {
	total, err := h.deps.Count(r.Context(), board(r))
	if err != nil {
		fail(r.Context(), w, Wrap("api.total", err))
		return
	}
	writeJSON(w, http.StatusOK, totalResponse{Total: total})
}
