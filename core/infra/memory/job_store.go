package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/etm-sa/landylocal/core/pipeline"
)

const (
	jobMetaKeyPrefix  = "job:meta:"
	jobStepsKeyPrefix = "job:steps:"
	recentJobsKey     = "job:recent"

	metaFieldID        = "id"
	metaFieldUserID    = "user_id"
	metaFieldStatus    = "status"
	metaFieldInput     = "input"
	metaFieldStructure = "structure"
	metaFieldError     = "error"
	metaFieldCreatedAt = "created_at"
	metaFieldUpdatedAt = "updated_at"

	envJobMetaTTL        = "JOB_META_TTL"
	envJobMetaTTLSeconds = "JOB_META_TTL_SECONDS"

	defaultRedisURL = "redis://localhost:6379"
)

var defaultJobMetaTTL = 7 * 24 * time.Hour

var activeStatuses = []pipeline.Status{
	pipeline.StatusPending,
	pipeline.StatusResearching,
	pipeline.StatusCopying,
	pipeline.StatusGenerating,
}

// RedisJobStore implements pipeline.Store backed by Redis.
type RedisJobStore struct {
	client  *redis.Client
	metaTTL time.Duration
}

// NewRedisJobStore constructs a Redis-backed job store from a redis:// URL.
func NewRedisJobStore(url string) (*RedisJobStore, error) {
	if url == "" {
		url = defaultRedisURL
	}

	ttl := defaultJobMetaTTL
	if v := os.Getenv(envJobMetaTTLSeconds); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(envJobMetaTTL); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			ttl = parsed
		}
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

	return &RedisJobStore{client: client, metaTTL: ttl}, nil
}

// NewRedisJobStoreFromClient wraps an existing client. Used by tests.
func NewRedisJobStoreFromClient(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{client: client, metaTTL: defaultJobMetaTTL}
}

// CreateJob persists a new job in status pending. The id must be unused.
func (s *RedisJobStore) CreateJob(ctx context.Context, job *pipeline.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id required")
	}
	metaKey := jobMetaKey(job.ID)

	created, err := s.client.HSetNX(ctx, metaKey, metaFieldID, job.ID).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("create job %s: %w", job.ID, pipeline.ErrJobExists)
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = pipeline.StatusPending

	fields := map[string]any{
		metaFieldUserID:    job.UserID,
		metaFieldStatus:    string(job.Status),
		metaFieldCreatedAt: job.CreatedAt.Unix(),
		metaFieldUpdatedAt: job.UpdatedAt.Unix(),
	}
	if job.Input != nil {
		data, err := json.Marshal(job.Input)
		if err != nil {
			return fmt.Errorf("marshal job input: %w", err)
		}
		fields[metaFieldInput] = string(data)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, metaKey, fields)
	pipe.ZAdd(ctx, statusIndexKey(job.Status), redis.Z{Score: float64(job.UpdatedAt.Unix()), Member: job.ID})
	pipe.ZAdd(ctx, recentJobsKey, redis.Z{Score: float64(job.UpdatedAt.Unix()), Member: job.ID})
	pipe.ZRemRangeByRank(ctx, recentJobsKey, 0, -1001)
	if s.metaTTL > 0 {
		pipe.Expire(ctx, metaKey, s.metaTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetJob loads a job and its recorded steps.
func (s *RedisJobStore) GetJob(ctx context.Context, jobID string) (*pipeline.Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id required")
	}
	meta, err := s.client.HGetAll(ctx, jobMetaKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, fmt.Errorf("get job %s: %w", jobID, pipeline.ErrJobNotFound)
	}

	job := &pipeline.Job{
		ID:     jobID,
		UserID: meta[metaFieldUserID],
		Status: pipeline.Status(meta[metaFieldStatus]),
		Error:  meta[metaFieldError],
	}
	if created, err := strconv.ParseInt(meta[metaFieldCreatedAt], 10, 64); err == nil {
		job.CreatedAt = time.Unix(created, 0)
	}
	if updated, err := strconv.ParseInt(meta[metaFieldUpdatedAt], 10, 64); err == nil {
		job.UpdatedAt = time.Unix(updated, 0)
	}
	if raw := meta[metaFieldInput]; raw != "" {
		var input pipeline.JobInput
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return nil, fmt.Errorf("decode job input: %w", err)
		}
		job.Input = &input
	}
	if raw := meta[metaFieldStructure]; raw != "" {
		var structure pipeline.PageStructure
		if err := json.Unmarshal([]byte(raw), &structure); err != nil {
			return nil, fmt.Errorf("decode job structure: %w", err)
		}
		job.Structure = &structure
	}

	steps, err := s.ListSteps(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Steps = steps
	return job, nil
}

// SetStatus moves a job forward along the lifecycle. Repeating the current
// status refreshes updated_at; terminal jobs reject any further move and
// backward moves are refused so duplicate task deliveries cannot rewind a job.
func (s *RedisJobStore) SetStatus(ctx context.Context, jobID string, status pipeline.Status) error {
	if jobID == "" || !status.Valid() {
		return fmt.Errorf("invalid job id or status")
	}
	metaKey := jobMetaKey(jobID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, metaKey, metaFieldStatus).Result()
		if err == redis.Nil {
			return fmt.Errorf("set status %s: %w", jobID, pipeline.ErrJobNotFound)
		}
		if err != nil {
			return err
		}
		prev := pipeline.Status(current)
		if prev != status {
			if prev.Terminal() {
				return fmt.Errorf("set status %s -> %s: %w", prev, status, pipeline.ErrTerminalStatus)
			}
			if status.Rank() < prev.Rank() {
				return fmt.Errorf("set status %s -> %s: %w", prev, status, pipeline.ErrInvalidTransition)
			}
		}

		now := time.Now().Unix()
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, metaKey, map[string]any{
			metaFieldStatus:    string(status),
			metaFieldUpdatedAt: now,
		})
		if prev != status {
			pipe.ZRem(ctx, statusIndexKey(prev), jobID)
		}
		pipe.ZAdd(ctx, statusIndexKey(status), redis.Z{Score: float64(now), Member: jobID})
		pipe.ZAdd(ctx, recentJobsKey, redis.Z{Score: float64(now), Member: jobID})
		pipe.ZRemRangeByRank(ctx, recentJobsKey, 0, -1001)
		if s.metaTTL > 0 {
			pipe.Expire(ctx, metaKey, s.metaTTL)
			pipe.Expire(ctx, jobStepsKey(jobID), s.metaTTL)
		}
		_, execErr := pipe.Exec(ctx)
		return execErr
	}, metaKey)
}

// SetFailed marks a job failed with a reason. The first terminal status wins:
// a job that already completed or failed is left untouched.
func (s *RedisJobStore) SetFailed(ctx context.Context, jobID, reason string) error {
	if jobID == "" {
		return fmt.Errorf("job id required")
	}
	metaKey := jobMetaKey(jobID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, metaKey, metaFieldStatus).Result()
		if err == redis.Nil {
			return fmt.Errorf("set failed %s: %w", jobID, pipeline.ErrJobNotFound)
		}
		if err != nil {
			return err
		}
		prev := pipeline.Status(current)
		if prev.Terminal() {
			return nil
		}

		now := time.Now().Unix()
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, metaKey, map[string]any{
			metaFieldStatus:    string(pipeline.StatusFailed),
			metaFieldError:     reason,
			metaFieldUpdatedAt: now,
		})
		pipe.ZRem(ctx, statusIndexKey(prev), jobID)
		pipe.ZAdd(ctx, statusIndexKey(pipeline.StatusFailed), redis.Z{Score: float64(now), Member: jobID})
		pipe.ZAdd(ctx, recentJobsKey, redis.Z{Score: float64(now), Member: jobID})
		pipe.ZRemRangeByRank(ctx, recentJobsKey, 0, -1001)
		if s.metaTTL > 0 {
			pipe.Expire(ctx, metaKey, s.metaTTL)
			pipe.Expire(ctx, jobStepsKey(jobID), s.metaTTL)
		}
		_, execErr := pipe.Exec(ctx)
		return execErr
	}, metaKey)
}

// SetStructure stores the assembled page for a job.
func (s *RedisJobStore) SetStructure(ctx context.Context, jobID string, structure *pipeline.PageStructure) error {
	if jobID == "" || structure == nil {
		return fmt.Errorf("job id and structure required")
	}
	data, err := json.Marshal(structure)
	if err != nil {
		return fmt.Errorf("marshal structure: %w", err)
	}
	return s.client.HSet(ctx, jobMetaKey(jobID), metaFieldStructure, string(data)).Err()
}

// AppendStep records a completed stage. Step order is the dedupe key: a
// redelivered task that re-runs a stage leaves the first record in place.
func (s *RedisJobStore) AppendStep(ctx context.Context, step *pipeline.JobStep) error {
	if step == nil || step.JobID == "" || step.StepOrder <= 0 {
		return fmt.Errorf("invalid job step")
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshal job step: %w", err)
	}

	key := jobStepsKey(step.JobID)
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, strconv.Itoa(step.StepOrder), string(data))
	if s.metaTTL > 0 {
		pipe.Expire(ctx, key, s.metaTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListSteps returns a job's recorded steps ordered by step order.
func (s *RedisJobStore) ListSteps(ctx context.Context, jobID string) ([]*pipeline.JobStep, error) {
	raw, err := s.client.HGetAll(ctx, jobStepsKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	steps := make([]*pipeline.JobStep, 0, len(raw))
	for _, data := range raw {
		var step pipeline.JobStep
		if err := json.Unmarshal([]byte(data), &step); err != nil {
			return nil, fmt.Errorf("decode job step: %w", err)
		}
		steps = append(steps, &step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

// ListStaleJobs returns non-terminal jobs last updated at or before cutoff.
func (s *RedisJobStore) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*pipeline.Job, error) {
	max := strconv.FormatInt(cutoff.Unix(), 10)
	out := []*pipeline.Job{}
	for _, status := range activeStatuses {
		ids, err := s.client.ZRangeByScore(ctx, statusIndexKey(status), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: 100,
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			job, err := s.GetJob(ctx, id)
			if err != nil {
				if errors.Is(err, pipeline.ErrJobNotFound) {
					s.client.ZRem(ctx, statusIndexKey(status), id)
					continue
				}
				return nil, err
			}
			if job.Status.Terminal() {
				continue
			}
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *RedisJobStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis job store not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

func jobMetaKey(jobID string) string {
	return jobMetaKeyPrefix + jobID
}

func jobStepsKey(jobID string) string {
	return jobStepsKeyPrefix + jobID
}

func statusIndexKey(status pipeline.Status) string {
	return "job:index:" + string(status)
}
