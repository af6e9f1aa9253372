// Package loadgen drives a running ladder service with generated scores and
// checks the ranking it reports against one computed locally.
package loadgen

import (
	"errors"
	"time"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL   string        // Base URL of the service
	Board     string        // Board to write to; empty uses the default board
	Members   int           // Number of members to generate
	BatchSize int           // Events per POST /events request
	TopN      int           // Number of top entries to verify
	Workers   int           // Concurrent requests in flight
	Timeout   time.Duration // HTTP request timeout
	Settle    time.Duration // How long to wait for queued events to apply
	Seed      uint64        // Score generator seed; 0 picks one
	Verbose   bool          // Log every batch
}

// Validate reports an unusable configuration.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base url must not be empty")
	case c.Members <= 0:
		return errors.New("members must be > 0")
	case c.BatchSize <= 0:
		return errors.New("batch size must be > 0")
	case c.TopN <= 0:
		return errors.New("top must be > 0")
	case c.Workers <= 0:
		return errors.New("workers must be > 0")
	}
	return nil
}

// Entry is one leaderboard row as served by GET /top.
type Entry struct {
	Rank   int     `json:"rank"`
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// event is one POST /events item.
type event struct {
	ID     string  `json:"id"`
	Member string  `json:"member"`
	Op     string  `json:"op"`
	Value  float64 `json:"value"`
}

type eventsResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// Stats holds run statistics.
type Stats struct {
	MembersGenerated int
	Requests         int
	Accepted         int
	Duplicates       int
	Retries          int
	Verified         int
	StartTime        time.Time
	Duration         time.Duration
}
