package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failureLogKey = "job:failures"
	failureLogCap = 500
)

// FailureEntry captures a failed job for diagnostics.
type FailureEntry struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FailureLog persists recent job failures in Redis.
type FailureLog struct {
	client *redis.Client
}

func NewFailureLog(url string) (*FailureLog, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &FailureLog{client: client}, nil
}

// NewFailureLogFromClient wraps an existing client. Used by tests and callers
// that already hold a connection.
func NewFailureLogFromClient(client *redis.Client) *FailureLog {
	return &FailureLog{client: client}
}

// Record appends a failure entry, keeping only the most recent entries.
func (l *FailureLog) Record(ctx context.Context, entry FailureEntry) error {
	if entry.JobID == "" {
		return fmt.Errorf("job id required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal failure entry: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, failureLogKey, string(data))
	pipe.LTrim(ctx, failureLogKey, 0, failureLogCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecordFailure appends a failure by its parts. It satisfies the pipeline
// driver's failure recorder.
func (l *FailureLog) RecordFailure(ctx context.Context, jobID, stage, reason string) error {
	return l.Record(ctx, FailureEntry{JobID: jobID, Stage: stage, Reason: reason})
}

// Recent returns the most recent failures, newest first.
func (l *FailureLog) Recent(ctx context.Context, limit int64) ([]FailureEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := l.client.LRange(ctx, failureLogKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]FailureEntry, 0, len(raw))
	for _, item := range raw {
		var entry FailureEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (l *FailureLog) Close() error {
	return l.client.Close()
}
