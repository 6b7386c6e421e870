package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/model"
)

const sessionKeyPrefix = "presentation:session:"

// Redis mirrors an in-memory state to redis after every write, so other
// processes can read the latest snapshot of a job.
type Redis struct {
	mem    *Memory
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{mem: NewMemory(), client: client, ttl: ttl, logger: logger}
}

func (r *Redis) Snapshot() model.State {
	return r.mem.Snapshot()
}

func (r *Redis) Update(fn func(*model.State)) {
	var snapshot model.State
	r.mem.Update(func(s *model.State) {
		fn(s)
		snapshot = s.Clone()
	})
	r.persist(snapshot)
}

func (r *Redis) Reset() {
	jobID := r.mem.Snapshot().JobID
	r.mem.Reset()
	if jobID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Del(ctx, sessionKey(jobID)).Err(); err != nil {
		r.logger.Warn("failed to clear persisted session", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (r *Redis) persist(s model.State) {
	if s.JobID == "" {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		r.logger.Error("failed to marshal session state", zap.String("job_id", s.JobID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Set(ctx, sessionKey(s.JobID), data, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to persist session state", zap.String("job_id", s.JobID), zap.Error(err))
	}
}

// Persisted reads the last snapshot written for jobID.
func Persisted(ctx context.Context, client *redis.Client, jobID string) (*model.State, error) {
	data, err := client.Get(ctx, sessionKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("no persisted session for %s", jobID)
		}
		return nil, err
	}

	var s model.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &s, nil
}

func sessionKey(jobID string) string {
	return sessionKeyPrefix + jobID
}
