package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"mcp-gateway/backend/pkg/models"
)

const (
	redisReportPrefix = "gateway:execution:"
	redisIndexKey     = "gateway:executions"
)

// RedisExecutionStore keeps reports as JSON strings with a sorted-set index
// ordered by start time.
type RedisExecutionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisExecutionStore parses url, connects and pings the server. A ttl of
// zero keeps reports forever.
func NewRedisExecutionStore(ctx context.Context, url string, ttl time.Duration) (*RedisExecutionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisExecutionStore{client: client, ttl: ttl}, nil
}

func (s *RedisExecutionStore) Save(ctx context.Context, report *models.ExecutionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode execution report: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisReportPrefix+report.ExecutionID, data, s.ttl)
	pipe.ZAdd(ctx, redisIndexKey, &redis.Z{
		Score:  float64(report.StartedAt.UnixNano()),
		Member: report.ExecutionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", report.ExecutionID, err)
	}
	return nil
}

func (s *RedisExecutionStore) Get(ctx context.Context, executionID string) (*models.ExecutionReport, error) {
	data, err := s.client.Get(ctx, redisReportPrefix+executionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	return decodeReport(data)
}

// List skips index members whose report has expired and prunes them.
func (s *RedisExecutionStore) List(ctx context.Context, limit int) ([]*models.ExecutionReport, error) {
	limit = normalizeLimit(limit)
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisReportPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	var reports []*models.ExecutionReport
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		r, err := decodeReport([]byte(raw))
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if len(expired) > 0 {
		s.client.ZRem(ctx, redisIndexKey, expired...)
	}
	return reports, nil
}

func (s *RedisExecutionStore) Close() error {
	return s.client.Close()
}
