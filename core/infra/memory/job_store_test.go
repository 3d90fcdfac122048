package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/etm-sa/landylocal/core/pipeline"
)

func newTestStore(t *testing.T) *RedisJobStore {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	store, err := NewRedisJobStore("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("failed to create job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &pipeline.Job{
		ID:     "job-123",
		UserID: "user-1",
		Input: &pipeline.JobInput{
			BusinessName: "Al Noor Clinic",
			BusinessType: "dental clinic",
			City:         "Riyadh",
			Country:      "Saudi Arabia",
			Locale:       "ar-SA",
			Direction:    "rtl",
		},
	}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	got, err := store.GetJob(ctx, "job-123")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != pipeline.StatusPending {
		t.Fatalf("expected status pending, got %s", got.Status)
	}
	if got.UserID != "user-1" {
		t.Fatalf("unexpected user id %q", got.UserID)
	}
	if got.Input == nil || got.Input.BusinessName != "Al Noor Clinic" {
		t.Fatalf("input not round-tripped: %#v", got.Input)
	}

	if err := store.CreateJob(ctx, job); !errors.Is(err, pipeline.ErrJobExists) {
		t.Fatalf("expected pipeline.ErrJobExists, got %v", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetJob(context.Background(), "missing"); !errors.Is(err, pipeline.ErrJobNotFound) {
		t.Fatalf("expected pipeline.ErrJobNotFound, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, &pipeline.Job{ID: "job-1", UserID: "u"}); err != nil {
		t.Fatalf("create job: %v", err)
	}

	for _, status := range []pipeline.Status{
		pipeline.StatusResearching,
		pipeline.StatusCopying,
		pipeline.StatusGenerating,
		pipeline.StatusCompleted,
	} {
		if err := store.SetStatus(ctx, "job-1", status); err != nil {
			t.Fatalf("set status %s: %v", status, err)
		}
	}

	// terminal is absorbing
	if err := store.SetStatus(ctx, "job-1", pipeline.StatusResearching); !errors.Is(err, pipeline.ErrTerminalStatus) {
		t.Fatalf("expected pipeline.ErrTerminalStatus, got %v", err)
	}
	// re-asserting the terminal status itself is a no-op refresh
	if err := store.SetStatus(ctx, "job-1", pipeline.StatusCompleted); err != nil {
		t.Fatalf("idempotent terminal refresh: %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestStatusBackwardMoveRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, &pipeline.Job{ID: "job-2", UserID: "u"}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := store.SetStatus(ctx, "job-2", pipeline.StatusCopying); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := store.SetStatus(ctx, "job-2", pipeline.StatusResearching); !errors.Is(err, pipeline.ErrInvalidTransition) {
		t.Fatalf("expected pipeline.ErrInvalidTransition, got %v", err)
	}
	// same-status refresh is allowed
	if err := store.SetStatus(ctx, "job-2", pipeline.StatusCopying); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestSetFailedFirstTerminalWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, &pipeline.Job{ID: "job-3", UserID: "u"}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := store.SetFailed(ctx, "job-3", "generator unavailable"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.SetFailed(ctx, "job-3", "second reason"); err != nil {
		t.Fatalf("second set failed should be a no-op: %v", err)
	}

	got, err := store.GetJob(ctx, "job-3")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error != "generator unavailable" {
		t.Fatalf("first failure reason should win, got %q", got.Error)
	}
}

func TestAppendStepDedupesByOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, &pipeline.Job{ID: "job-4", UserID: "u"}); err != nil {
		t.Fatalf("create job: %v", err)
	}

	first := &pipeline.JobStep{
		JobID:      "job-4",
		StepName:   string(pipeline.StageClarify),
		StepOrder:  1,
		OutputData: json.RawMessage(`{"first":true}`),
		DurationMS: 120,
	}
	if err := store.AppendStep(ctx, first); err != nil {
		t.Fatalf("append step: %v", err)
	}
	dup := &pipeline.JobStep{
		JobID:      "job-4",
		StepName:   string(pipeline.StageClarify),
		StepOrder:  1,
		OutputData: json.RawMessage(`{"first":false}`),
	}
	if err := store.AppendStep(ctx, dup); err != nil {
		t.Fatalf("duplicate append should not error: %v", err)
	}
	if err := store.AppendStep(ctx, &pipeline.JobStep{JobID: "job-4", StepName: string(pipeline.StageResearch), StepOrder: 2}); err != nil {
		t.Fatalf("append second step: %v", err)
	}

	steps, err := store.ListSteps(ctx, "job-4")
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].StepOrder != 1 || steps[1].StepOrder != 2 {
		t.Fatalf("steps out of order: %#v", steps)
	}
	if string(steps[0].OutputData) != `{"first":true}` {
		t.Fatalf("first record should survive redelivery, got %s", steps[0].OutputData)
	}
}

func TestSetStructure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, &pipeline.Job{ID: "job-5", UserID: "u"}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	structure := &pipeline.PageStructure{
		BrandName: "Al Noor Clinic",
		RTL:       true,
		Locale:    "ar-SA",
		Layout:    []pipeline.LayoutBlock{{ID: "hero-1", Type: "hero", Data: map[string]any{"headline": "x"}}},
	}
	if err := store.SetStructure(ctx, "job-5", structure); err != nil {
		t.Fatalf("set structure: %v", err)
	}

	got, err := store.GetJob(ctx, "job-5")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Structure == nil || got.Structure.BrandName != "Al Noor Clinic" || !got.Structure.RTL {
		t.Fatalf("structure not round-tripped: %#v", got.Structure)
	}
	if len(got.Structure.Layout) != 1 || got.Structure.Layout[0].Type != "hero" {
		t.Fatalf("layout not round-tripped: %#v", got.Structure.Layout)
	}
}

func TestListStaleJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, &pipeline.Job{ID: "stale-1", UserID: "u"}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := store.SetStatus(ctx, "stale-1", pipeline.StatusResearching); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := store.CreateJob(ctx, &pipeline.Job{ID: "done-1", UserID: "u"}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := store.SetStatus(ctx, "done-1", pipeline.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stale, err := store.ListStaleJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale-1" {
		t.Fatalf("unexpected stale jobs: %#v", stale)
	}

	// nothing is stale with a cutoff in the past
	stale, err = store.ListStaleJobs(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale jobs, got %#v", stale)
	}
}
