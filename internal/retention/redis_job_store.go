package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisJobStore keeps job and restore records as JSON values that expire on
// their own, so every instance sees the same state
type RedisJobStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisJobStore creates a store. Keys are namespaced under prefix.
func NewRedisJobStore(client *redis.Client, prefix string) *RedisJobStore {
	if prefix == "" {
		prefix = "compliance:retention:"
	}
	return &RedisJobStore{redis: client, prefix: prefix}
}

func (s *RedisJobStore) jobKey(id string) string     { return s.prefix + "job:" + id }
func (s *RedisJobStore) restoreKey(id string) string { return s.prefix + "restore:" + id }

func (s *RedisJobStore) SaveJob(ctx context.Context, job ArchiveJob) error {
	ttl := RunningRecordTTL
	if job.Status.IsFinished() {
		ttl = FinishedRecordTTL
	}
	return s.set(ctx, s.jobKey(job.ID), job, ttl)
}

func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*ArchiveJob, error) {
	var job ArchiveJob
	found, err := s.get(ctx, s.jobKey(id), &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, jobNotFound(id)
	}
	return &job, nil
}

func (s *RedisJobStore) SaveRestore(ctx context.Context, req RestoreRequest) error {
	ttl := RunningRecordTTL
	if req.Status != RestorePending {
		ttl = FinishedRecordTTL
	}
	return s.set(ctx, s.restoreKey(req.ID), req, ttl)
}

func (s *RedisJobStore) GetRestore(ctx context.Context, id string) (*RestoreRequest, error) {
	var req RestoreRequest
	found, err := s.get(ctx, s.restoreKey(id), &req)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, restoreNotFound(id)
	}
	return &req, nil
}

func (s *RedisJobStore) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (s *RedisJobStore) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
