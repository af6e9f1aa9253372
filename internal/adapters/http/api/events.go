package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/ladder/internal/domain/model"
)

// EventDependencies defines the interface for queued mutation ingestion.
type EventDependencies interface {
	// EnqueueBatch queues mutations in order. It returns service.ErrBackpressure
	// (wrapped) when the queue fills up part way.
	EnqueueBatch(ctx context.Context, ms []model.Mutation) (accepted, duplicates int, err error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvents handles POST /events. The body is one event or an array
// of them; the batch is accepted for asynchronous application.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	reqs, err := decodeEvents(w, r)
	if err != nil {
		fail(r.Context(), w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(reqs) > maxBatchSize {
		fail(r.Context(), w, WrapKind(op, ErrLimitExceeded, fmt.Errorf("%d events, at most %d per request", len(reqs), maxBatchSize)))
		return
	}
	ms := make([]model.Mutation, len(reqs))
	for i, req := range reqs {
		if err := req.validate(); err != nil {
			fail(r.Context(), w, WrapKind(op, ErrBadRequest, fmt.Errorf("event %d: %w", i, err)))
			return
		}
		ms[i] = req.mutation(board(r))
	}

	accepted, dups, err := h.deps.EnqueueBatch(r.Context(), ms)
	if err != nil {
		fail(r.Context(), w, Wrap(op, fmt.Errorf("%d accepted before failure: %w", accepted+dups, err)))
		return
	}
	writeJSON(w, http.StatusAccepted, eventsResponse{Accepted: accepted, Duplicates: dups})
}

func decodeEvents(w http.ResponseWriter, r *http.Request) ([]eventRequest, error) {
	var raw json.RawMessage
	if err := decode(w, r, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var one eventRequest
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		return []eventRequest{one}, nil
	}
	var many []eventRequest
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	if len(many) == 0 {
		return nil, errors.New("no events")
	}
	return many, nil
}
