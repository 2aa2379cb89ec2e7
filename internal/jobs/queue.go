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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/types"
)

const (
	// waitingQueueKey is the Redis list shared by api and worker processes.
	waitingQueueKey = "ytvault:jobs:queue"

	// queueBlockTimeout is how long BRPOP waits before reporting an empty
	// queue, which keeps worker shutdown responsive.
	queueBlockTimeout = 5 * time.Second
)

// Envelope is the unit of work handed from the api role to a worker. Params
// stays opaque here; the engine resolves it against the task factory for the
// job type.
type Envelope struct {
	JobID  string          `json:"job_id"`
	Type   types.JobType   `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Queue transports envelopes between processes. Dequeue returns (nil, nil)
// when no work arrived within the block window.
type Queue interface {
	Enqueue(ctx context.Context, env *Envelope) error
	Dequeue(ctx context.Context) (*Envelope, error)
	Close() error
}

type redisQueue struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisQueue connects to Redis and returns the shared work queue.
func NewRedisQueue(cfg RedisConfig, logger zerolog.Logger) (Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  queueBlockTimeout + 2*time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisQueue{client: client, logger: logger}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.LPush(ctx, waitingQueueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", env.JobID, err)
	}

	q.logger.Debug().
		Str("event", "jobs.enqueued").
		Str("job_id", env.JobID).
		Str("job_type", string(env.Type)).
		Msg("job enqueued")
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context) (*Envelope, error) {
	// BRPOP returns [key, value]; redis.Nil signals the block window
	// elapsed without work.
	result, err := q.client.BRPop(ctx, queueBlockTimeout, waitingQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("dequeue: malformed BRPOP reply (%d elements)", len(result))
	}

	var env Envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
