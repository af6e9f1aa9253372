package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/ladder/internal/adapters/repository"
)

const (
	redisPingTimeout = 5 * time.Second
	redisScanCount   = 100
)

// RedisSink keeps each board as a sorted set named <prefix>:board:<board>.
type RedisSink struct {
	rdb    *redis.Client
	prefix string
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink connects and verifies the connection with a PING.
func NewRedisSink(addr, password string, db int, prefix string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSink{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":")}, nil
}

func (s *RedisSink) Name() string { return BackendRedis }

func (s *RedisSink) key(board string) string {
	return s.prefix + ":board:" + board
}

// Save replaces the sorted set atomically with DEL and ZADD in one MULTI.
func (s *RedisSink) Save(ctx context.Context, board string, entries []repository.Entry) error {
	key := s.key(board)
	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		members[i] = redis.Z{Score: e.Score, Member: e.Member}
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving board %s: %w", board, err)
	}
	return nil
}

// Load returns the board in rank order.
func (s *RedisSink) Load(ctx context.Context, board string) ([]repository.Entry, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, s.key(board), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading board %s: %w", board, err)
	}
	out := make([]repository.Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		out = append(out, repository.Entry{Member: member, Score: z.Score})
	}
	return ranked(out), nil
}

func (s *RedisSink) Delete(ctx context.Context, board string) error {
	if err := s.rdb.Del(ctx, s.key(board)).Err(); err != nil {
		return fmt.Errorf("deleting board %s: %w", board, err)
	}
	return nil
}

// List scans for every stored board.
func (s *RedisSink) List(ctx context.Context) ([]string, error) {
	prefix := s.key("")
	var boards []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		boards = append(boards, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s*: %w", prefix, err)
	}
	return boards, nil
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
