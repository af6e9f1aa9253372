package api

import (
	"context"
	"net/http"

	"github.com/okian/ladder/internal/domain/types"
)

// BoardDependencies defines board administration.
type BoardDependencies interface {
	BoardInfos(ctx context.Context) []types.BoardInfo
	DropBoard(ctx context.Context, board string) (bool, error)
	TriggerSnapshot(ctx context.Context) (int, error)
}

// BoardsHandler handles board listing, removal and snapshots.
type BoardsHandler struct {
	deps BoardDependencies
}

// NewBoardsHandler creates a new boards handler.
func NewBoardsHandler(deps BoardDependencies) *BoardsHandler {
	return &BoardsHandler{deps: deps}
}

// HandleList handles GET /boards.
func (h *BoardsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.BoardInfos(r.Context()))
}

// HandleDrop handles DELETE /boards/{board}.
func (h *BoardsHandler) HandleDrop(w http.ResponseWriter, r *http.Request) {
	removed, err := h.deps.DropBoard(r.Context(), board(r))
	if err != nil {
		fail(r.Context(), w, Wrap("api.drop_board", err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Removed: &removed})
}

// HandleSnapshot handles POST /admin/snapshot.
func (h *BoardsHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.TriggerSnapshot(r.Context())
	if err != nil {
		fail(r.Context(), w, Wrap("api.snapshot", err))
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Boards: n})
}
