package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zero-network/txexporter/pkg/jobs"
	"go.uber.org/zap"
)

const (
	// KeyPrefix namespaces job status keys: txexporter:job:<id>.
	KeyPrefix = "txexporter:job:"
	// JobsChannel receives every status update.
	JobsChannel = "txexporter:jobs"
	// StatusTTL is how long finished statuses stay readable.
	StatusTTL = 24 * time.Hour
)

// JobKey returns the key a job status is stored under.
func JobKey(id string) string {
	return KeyPrefix + id
}

// StatusSink mirrors job statuses into Redis and announces them on JobsChannel.
type StatusSink struct {
	c *Client
}

func NewStatusSink(c *Client) *StatusSink {
	return &StatusSink{c: c}
}

// Write stores the snapshot and publishes it.
func (s *StatusSink) Write(ctx context.Context, st jobs.Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := s.c.client.Set(ctx, JobKey(st.JobID), payload, StatusTTL).Err(); err != nil {
		return fmt.Errorf("store status %s: %w", st.JobID, err)
	}
	s.c.Publish(ctx, JobsChannel, payload)
	return nil
}

// Lookup reads a status written by this or another process.
func (s *StatusSink) Lookup(ctx context.Context, id string) (jobs.Status, bool) {
	raw, err := s.c.client.Get(ctx, JobKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.c.logger.Warn("Failed to read job status from Redis", zap.String("job_id", id), zap.Error(err))
		}
		return jobs.Status{}, false
	}
	var st jobs.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		s.c.logger.Warn("Corrupt job status in Redis", zap.String("job_id", id), zap.Error(err))
		return jobs.Status{}, false
	}
	return st, true
}

// DecodeStatus parses a JobsChannel message payload.
func DecodeStatus(payload string) (jobs.Status, error) {
	var st jobs.Status
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return jobs.Status{}, fmt.Errorf("decode status message: %w", err)
	}
	return st, nil
}
