// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/types"
)

// Redis key layout. Records are JSON blobs; the index ZSET orders job ids by
// creation time so enumeration never scans the keyspace.
const (
	redisRecordPrefix = "ytvault:jobs:rec:"
	redisIndexKey     = "ytvault:jobs:idx"
	redisCancelPrefix = "ytvault:jobs:cancel:"
	redisChannelFmt   = "ytvault:jobs:ch:%s"

	// redisCancelTTL keeps cancel markers from outliving their jobs.
	redisCancelTTL = 48 * time.Hour

	// redisTxRetries bounds optimistic WATCH retries on contended records.
	redisTxRetries = 5
)

// RedisConfig holds the connection settings for the remote job store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type redisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and returns the shared job store used when
// api and worker run as separate processes.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("event", "jobs.redis_connected").
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis job store")

	return &redisStore{client: client, logger: logger}, nil
}

func recordKey(id string) string { return redisRecordPrefix + id }
func cancelKey(id string) string { return redisCancelPrefix + id }
func channelKey(id string) string {
	return fmt.Sprintf(redisChannelFmt, id)
}

func (s *redisStore) Create(ctx context.Context, jobType types.JobType, initial Progress) (*Job, error) {
	if !jobType.IsValid() {
		return nil, fmt.Errorf("create job: invalid type %q", jobType)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    types.JobStatusPending,
		Progress:  initial,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(job.ID), data, 0)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	return job, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// mutate runs a watched read-modify-write cycle on one record and publishes
// the updated snapshot to the job's change channel.
func (s *redisStore) mutate(ctx context.Context, id string, apply func(*Job) error) (*Job, error) {
	var updated *Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, recordKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		if err := apply(&job); err != nil {
			return err
		}

		out, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recordKey(id), out, 0)
			pipe.Publish(ctx, channelKey(id), out)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &job
		return nil
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txn, recordKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent writer, retry
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", id)
}

func (s *redisStore) UpdateProgress(ctx context.Context, id string, delta Progress) (*Job, error) {
	return s.mutate(ctx, id, func(job *Job) error {
		if job.Status.IsTerminal() {
			return fmt.Errorf("update progress %s: %w", id, ErrTerminal)
		}
		job.Progress.merge(delta)
		return nil
	})
}

func (s *redisStore) SetStatus(ctx context.Context, id string, status types.JobStatus, result *Result, errMsg string) (*Job, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("set status %s: invalid status %q", id, status)
	}

	job, err := s.mutate(ctx, id, func(job *Job) error {
		if !job.Status.CanTransitionTo(status) {
			return fmt.Errorf("set status %s: %s → %s: %w", id, job.Status, status, ErrInvalidTransition)
		}
		applyTransition(job, status, result, errMsg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if status.IsTerminal() {
		if err := s.client.Del(ctx, cancelKey(id)).Err(); err != nil {
			s.logger.Warn().Err(err).Str(
				"job_id", id).Msg("failed to clear cancel marker")
		}
	}
	return job, nil
}

func (s *redisStore) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*Job, 0, limit)
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Record expired or deleted behind the index; self-heal.
			stale = append(stale, ids[i])
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", ids[i]).Msg("skipping undecodable job record")
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, &job)
		if len(jobs) >= limit {
			break
		}
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, redisIndexKey, stale...).Err(); err != nil {
			s.logger.Warn().Err(err).Int("count", len(stale)).Msg("failed to prune stale index entries")
		}
	}
	return jobs, nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("delete %s: %w", id, ErrTerminal)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey(id))
	pipe.ZRem(ctx, redisIndexKey, id)
	pipe.Del(ctx, cancelKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *redisStore) RequestCancel(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil // no-op per the cancellation contract
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	if err := s.client.Set(ctx, cancelKey(id), "1", redisCancelTTL).Err(); err != nil {
		return fmt.Errorf("request cancel %s: %w", id, err)
	}
	return nil
}

func (s *redisStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("cancel check %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *redisStore) Subscribe(ctx context.Context, id string) (<-chan *Job, func(), error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan *Job, subscriberBuffer)
	if job.Status.IsTerminal() {
		out <- job
		close(out)
		return out, func() {}, nil
	}

	pubsub := s.client.Subscribe(ctx, channelKey(id))
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var snapshot Job
			if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
				s.logger.Warn().Err(err).Str("job_id", id).Msg("dropping undecodable job event")
				continue
			}
			select {
			case out <- &snapshot:
			default:
			}
			if snapshot.Status.IsTerminal() {
				_ = pubsub.Close()
				return
			}
		}
	}()

	stop := func() { _ = pubsub.Close() }
	return out, stop, nil
}

func (s *redisStore) DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	ids, err := s.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("expire jobs: %w", err)
	}

	var removed int
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			if err := s.client.ZRem(ctx, redisIndexKey, id).Err(); err != nil {
				s.logger.Warn().Err(err).Str("job_id", id).Msg("failed to prune stale index entry")
			}
			continue
		}
		if err != nil {
			return removed, err
		}
		if !job.Status.IsTerminal() || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, recordKey(id))
		pipe.ZRem(ctx, redisIndexKey, id)
		pipe.Del(ctx, cancelKey(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("expire job %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
