package api

import (
	"context"
	"net/http"

	"github.com/okian/ladder/internal/domain/types"
)

// MemberDependencies defines the per-member reads and writes.
type MemberDependencies interface {
	Upsert(ctx context.Context, board, member string, score float64) (bool, error)
	IncrementOnce(ctx context.Context, board, member string, delta float64, key string) (float64, bool, error)
	Remove(ctx context.Context, board, member string) (bool, error)
	Score(ctx context.Context, board, member string) (float64, error)
	Rank(ctx context.Context, board, member string) (int, error)
	Stats(ctx context.Context, board, member string) (types.MemberStats, error)
}

// MemberHandler handles requests addressed to one member.
type MemberHandler struct {
	deps MemberDependencies
}

// NewMemberHandler creates a new member handler.
func NewMemberHandler(deps MemberDependencies) *MemberHandler {
	return &MemberHandler{deps: deps}
}

// HandleUpsert handles POST /score requests.
func (h *MemberHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	const op = "api.score"
	var req scoreRequest
	if err := decode(w, r, &req); err != nil {
		fail(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		fail(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	changed, err := h.deps.Upsert(r.Context(), board(r), req.Member, *req.Score)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Changed: &changed})
}

// HandleIncrement handles POST /increment requests. A repeated
// Idempotency-Key returns the current score without applying the delta.
func (h *MemberHandler) HandleIncrement(w http.ResponseWriter, r *http.Request) {
	const op = "api.increment"
	var req incrementRequest
	if err := decode(w, r, &req); err != nil {
		fail(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		fail(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	key := r.Header.Get(IdempotencyKeyHeader)
	score, dup, err := h.deps.IncrementOnce(r.Context(), board(r), req.Member, *req.Delta, key)
	if err != nil {
		fail(r.Context(), w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, incrementResponse{NewScore: score, Duplicate: dup})
}

// HandleRemove handles DELETE /member/{id}. Removing an absent member
// succeeds with removed=false.
func (h *MemberHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	removed, err := h.deps.Remove(r.Context(), board(r), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), w, Wrap("api.remove", err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Removed: &removed})
}

// HandleScore handles GET /member/{id}/score.
func (h *MemberHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.deps.Score(r.Context(), board(r), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), w, Wrap("api.member_score", err))
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Score: score})
}

// HandleRank handles GET /member/{id}/rank.
func (h *MemberHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	rank, err := h.deps.Rank(r.Context(), board(r), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), w, Wrap("api.rank", err))
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{Rank: rank})
}

// HandleStats handles GET /member/{id}/stats.
func (h *MemberHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Stats(r.Context(), board(r), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), w, Wrap("api.member_stats", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
