package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ladder/pkg/logger"
)

const (
	maxRetries   = 5
	retryBackoff = 50 * time.Millisecond
)

// errRetry marks a response the server asked us to retry (429/503).
var errRetry = errors.New("retryable response")

// client wraps http.Client with the board-aware route prefix.
type client struct {
	http   *http.Client
	base   string
	prefix string
}

func newClient(cfg *Config) *client {
	prefix := ""
	if cfg.Board != "" {
		prefix = "/boards/" + url.PathEscape(cfg.Board)
	}
	return &client{
		http:   &http.Client{Timeout: cfg.Timeout},
		base:   cfg.BaseURL,
		prefix: prefix,
	}
}

// do sends one request and decodes a JSON response into out when non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, errRetry)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// healthy checks GET /healthz.
func (c *client) healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// postEvents submits one batch, retrying on backpressure.
func (c *client) postEvents(ctx context.Context, batch []event) (eventsResponse, int, error) {
	var (
		resp    eventsResponse
		retries int
	)
	for {
		err := c.do(ctx, http.MethodPost, c.prefix+"/events", batch, &resp)
		if err == nil || !errors.Is(err, errRetry) || retries >= maxRetries {
			return resp, retries, err
		}
		retries++
		select {
		case <-ctx.Done():
			return resp, retries, ctx.Err()
		case <-time.After(retryBackoff * time.Duration(retries)):
		}
	}
}

func (c *client) top(ctx context.Context, n int) ([]Entry, error) {
	var out []Entry
	err := c.do(ctx, http.MethodGet, c.prefix+"/top?count="+strconv.Itoa(n), nil, &out)
	return out, err
}

func (c *client) total(ctx context.Context) (int, error) {
	var out struct {
		Total int `json:"total"`
	}
	err := c.do(ctx, http.MethodGet, c.prefix+"/total", nil, &out)
	return out.Total, err
}

func (c *client) rank(ctx context.Context, member string) (int, error) {
	var out struct {
		Rank int `json:"rank"`
	}
	err := c.do(ctx, http.MethodGet, c.prefix+"/member/"+url.PathEscape(member)+"/rank", nil, &out)
	return out.Rank, err
}

// submit posts all batches with at most cfg.Workers requests in flight.
func submit(ctx context.Context, cfg *Config, c *client, all [][]event, stats *Stats) error {
	log := logger.Get().Named("loadgen")
	var accepted, duplicates, retries, requests atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, batch := range all {
		g.Go(func() error {
			resp, r, err := c.postEvents(gctx, batch)
			requests.Add(int64(r + 1))
			retries.Add(int64(r))
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			accepted.Add(int64(resp.Accepted))
			duplicates.Add(int64(resp.Duplicates))
			if cfg.Verbose {
				log.Debug(gctx, "batch submitted",
					logger.Int("batch", i),
					logger.Int("accepted", resp.Accepted),
					logger.Int("retries", r))
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Requests = int(requests.Load())
	stats.Accepted = int(accepted.Load())
	stats.Duplicates = int(duplicates.Load())
	stats.Retries = int(retries.Load())
	return err
}
