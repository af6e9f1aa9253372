// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/ladder/internal/adapters/repository"
	service "github.com/okian/ladder/internal/app"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/types"
	"github.com/okian/ladder/pkg/logger"
)

const (
	defaultTopCount     = 10
	defaultAroundRadius = 5
	defaultMaxCount     = 1000
	maxBatchSize        = 1000
	maxBodyBytes        = 1 << 20
	maxRequestIDLen     = 128

	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
	// IdempotencyKeyHeader makes POST /increment safe to retry.
	IdempotencyKeyHeader = "Idempotency-Key"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
// An empty board argument selects the default board.
type Dependencies interface {
	LeaderboardDependencies
	MemberDependencies
	EventDependencies
	BoardDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	memberHandler      *MemberHandler
	boardsHandler      *BoardsHandler

	requestTimeout time.Duration
	limits         limits
	logger         logger.Logger
}

// limits bounds and defaults the count query parameter.
type limits struct {
	maxCount      int
	defaultTop    int
	defaultAround int
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		limits: limits{
			maxCount:      defaultMaxCount,
			defaultTop:    defaultTopCount,
			defaultAround: defaultAroundRadius,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	s.eventsHandler = NewEventsHandler(deps)
	s.leaderboardHandler = NewLeaderboardHandler(deps, s.limits)
	s.memberHandler = NewMemberHandler(deps)
	s.boardsHandler = NewBoardsHandler(deps)
	return s
}

// Register attaches all HTTP routes to mux. Leaderboard routes are mounted
// twice: once for the default board and once under /boards/{board}.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	mux.HandleFunc("GET /healthz", s.wrap("healthz", s.healthHandler.HandleHealth))
	mux.HandleFunc("GET /stats", s.wrap("stats", s.statsHandler.HandleStats))
	mux.HandleFunc("GET /boards", s.wrap("boards", s.boardsHandler.HandleList))
	mux.HandleFunc("DELETE /boards/{board}", s.wrap("drop_board", s.boardsHandler.HandleDrop))
	mux.HandleFunc("POST /admin/snapshot", s.wrap("snapshot", s.boardsHandler.HandleSnapshot))

	for _, prefix := range []string{"", "/boards/{board}"} {
		route := func(method, path, endpoint string, h http.HandlerFunc) {
			mux.HandleFunc(method+" "+prefix+path, s.wrap(endpoint, h))
		}
		route(http.MethodPost, "/score", "score", s.memberHandler.HandleUpsert)
		route(http.MethodPost, "/increment", "increment", s.memberHandler.HandleIncrement)
		route(http.MethodPost, "/events", "events", s.eventsHandler.HandlePostEvents)
		route(http.MethodGet, "/top", "top", s.leaderboardHandler.HandleTop)
		route(http.MethodGet, "/top/members", "top_members", s.leaderboardHandler.HandleTopMembers)
		route(http.MethodGet, "/total", "total", s.leaderboardHandler.HandleTotal)
		route(http.MethodGet, "/range", "range", s.leaderboardHandler.HandleRange)
		route(http.MethodGet, "/member/{id}/rank", "rank", s.memberHandler.HandleRank)
		route(http.MethodGet, "/member/{id}/score", "member_score", s.memberHandler.HandleScore)
		route(http.MethodGet, "/member/{id}/stats", "member_stats", s.memberHandler.HandleStats)
		route(http.MethodGet, "/member/{id}/around", "around", s.leaderboardHandler.HandleAround)
		route(http.MethodDelete, "/member/{id}", "remove", s.memberHandler.HandleRemove)
	}
}

// wrap applies the middleware chain shared by every route.
func (s *Server) wrap(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	h = Timeout(h, s.requestTimeout)
	h = Recover(h, s.logger)
	h = MetricsMiddleware(h, endpoint)
	return RequestID(h)
}

// board returns the {board} path value; empty on default-board routes.
func board(r *http.Request) string {
	return r.PathValue("board")
}

// scoreRequest mirrors the OpenAPI schema for POST /score.
type scoreRequest struct {
	Member string   `json:"member"`
	Score  *float64 `json:"score"`
}

func (e scoreRequest) validate() error {
	switch {
	case strings.TrimSpace(e.Member) == "":
		return errors.New("missing member")
	case e.Score == nil:
		return errors.New("missing score")
	}
	return nil
}

// incrementRequest mirrors the OpenAPI schema for POST /increment.
type incrementRequest struct {
	Member string   `json:"member"`
	Delta  *float64 `json:"delta"`
}

func (e incrementRequest) validate() error {
	switch {
	case strings.TrimSpace(e.Member) == "":
		return errors.New("missing member")
	case e.Delta == nil:
		return errors.New("missing delta")
	}
	return nil
}

// eventRequest mirrors the OpenAPI schema for one POST /events item.
type eventRequest struct {
	ID     string   `json:"id"`
	Board  string   `json:"board"`
	Member string   `json:"member"`
	Op     string   `json:"op"`
	Value  *float64 `json:"value"`
	TS     string   `json:"ts"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.Member) == "":
		return errors.New("missing member")
	case strings.TrimSpace(e.Op) == "":
		return errors.New("missing op")
	}
	switch model.Op(e.Op) {
	case model.OpUpsert, model.OpIncrement:
		if e.Value == nil {
			return fmt.Errorf("op %s needs a value", e.Op)
		}
	case model.OpRemove:
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	if e.TS != "" {
		if _, err := time.Parse(time.RFC3339, e.TS); err != nil {
			return errors.New("invalid ts; must be RFC3339")
		}
	}
	return nil
}

// mutation converts the request; board is used when the item names none.
func (e eventRequest) mutation(board string) model.Mutation {
	m := model.Mutation{
		ID:     e.ID,
		Board:  e.Board,
		Member: e.Member,
		Op:     model.Op(e.Op),
	}
	if m.Board == "" {
		m.Board = board
	}
	if e.Value != nil {
		m.Value = *e.Value
	}
	if e.TS != "" {
		m.TS, _ = time.Parse(time.RFC3339, e.TS)
	}
	return m
}

type statusResponse struct {
	Status  string `json:"status"`
	Changed *bool  `json:"changed,omitempty"`
	Removed *bool  `json:"removed,omitempty"`
}

type incrementResponse struct {
	NewScore  float64 `json:"newScore"`
	Duplicate bool    `json:"duplicate"`
}

type eventsResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

type rankResponse struct {
	Rank int `json:"rank"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

type totalResponse struct {
	Total int `json:"total"`
}

type snapshotResponse struct {
	Boards int `json:"boards"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.RankedEntry

// decode reads one JSON value from the request body.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// queryFloat parses a required float query parameter.
func queryFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", name, raw)
	}
	return v, nil
}

// count parses the count query parameter, falling back to def.
func (l limits) count(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: count %q is not an integer", ErrBadRequest, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: count must be >= 0, got %d", ErrBadRequest, n)
	}
	if n > l.maxCount {
		return 0, fmt.Errorf("%w: count %d is above %d", ErrLimitExceeded, n, l.maxCount)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		// Infinite scores have no JSON representation.
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Code: "encode_error", Message: err.Error()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status != http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err onto a status and error code and writes it.
func fail(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Get().Error(ctx, "request failed", logger.Int("status", status), logger.Error(err))
	}
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrLimitExceeded):
		return http.StatusBadRequest, "limit_exceeded"
	case errors.Is(err, ErrBadRequest), errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNoSnapshotSink), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
