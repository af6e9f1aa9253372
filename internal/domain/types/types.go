// Package types contains response types shared by the service and the HTTP layer.
package types

// RankedEntry is one leaderboard row. Rank 1 is the highest score.
type RankedEntry struct {
	Rank   int     `json:"rank"`
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// MemberStats is a member's position read at a single instant.
type MemberStats struct {
	Member string  `json:"member"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
	Total  int     `json:"total"`
}

// BoardInfo summarizes one board.
type BoardInfo struct {
	Board string `json:"board"`
	Total int    `json:"total"`
}
