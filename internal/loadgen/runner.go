package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/ladder/pkg/logger"
)

const rankSamples = 32

// Run generates members, submits them, waits for them to apply and verifies
// the ranking the service serves. The target board must start empty.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}
	c := newClient(cfg)

	if err := c.healthy(ctx); err != nil {
		return stats, fmt.Errorf("service not healthy: %w", err)
	}
	if n, err := c.total(ctx); err != nil {
		return stats, err
	} else if n != 0 {
		return stats, fmt.Errorf("board already has %d members", n)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	members := generate(cfg.Members, seed)
	stats.MembersGenerated = len(members)
	log.Info(ctx, "generated members", logger.Int("members", len(members)), logger.Any("seed", seed))

	if err := submit(ctx, cfg, c, batches(members, cfg.BatchSize), stats); err != nil {
		return stats, fmt.Errorf("submitting events: %w", err)
	}
	log.Info(ctx, "events submitted",
		logger.Int("requests", stats.Requests),
		logger.Int("accepted", stats.Accepted),
		logger.Int("retries", stats.Retries))

	if err := waitApplied(ctx, c, len(members), cfg.Settle); err != nil {
		return stats, err
	}

	ranked := rank(members)
	topN := min(cfg.TopN, len(ranked))
	got, err := c.top(ctx, topN)
	if err != nil {
		return stats, fmt.Errorf("fetching top: %w", err)
	}
	if err := verifyTop(got, ranked[:topN]); err != nil {
		return stats, err
	}
	n, err := verifyRanks(ctx, c, sample(ranked, rankSamples))
	stats.Verified = topN + n
	if err != nil {
		return stats, err
	}

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "leaderboard verified",
		logger.Int("top", topN),
		logger.Int("rank_checks", n),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}
