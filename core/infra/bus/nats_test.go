package bus

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/etm-sa/landylocal/core/pipeline"
)

func TestEventSubject(t *testing.T) {
	if got := EventSubject("abc-123"); got != "job.abc-123.events" {
		t.Fatalf("unexpected event subject: %s", got)
	}
}

func TestInitJetStreamEnabled(t *testing.T) {
	t.Setenv(envUseJetStream, "")
	if initJetStreamEnabled() {
		t.Fatalf("expected jetstream disabled by default")
	}
	for _, val := range []string{"1", "true", "yes", "y", "on"} {
		t.Setenv(envUseJetStream, val)
		if !initJetStreamEnabled() {
			t.Fatalf("expected jetstream enabled for %s", val)
		}
	}
	t.Setenv(envUseJetStream, "no")
	if initJetStreamEnabled() {
		t.Fatalf("expected jetstream disabled for no")
	}
}

func TestDurableName(t *testing.T) {
	if durableName("", "") != "" {
		t.Fatalf("expected empty durable name")
	}
	name := durableName(TaskSubject, TaskQueueGroup)
	if name != "dur_pipeline_workers__pipeline_tasks" {
		t.Fatalf("unexpected durable name: %s", name)
	}
	name = durableName(TaskSubject, "")
	if name != "dur_pipeline_tasks" {
		t.Fatalf("unexpected durable name for empty queue: %s", name)
	}
}

func TestBusPublishEventErrors(t *testing.T) {
	var nilBus *Bus
	if err := nilBus.PublishEvent("job-1", pipeline.Event{}); !errors.Is(err, errNilBus) {
		t.Fatalf("expected nil bus error, got %v", err)
	}
	b := &Bus{nc: &nats.Conn{}}
	if err := b.PublishEvent("", pipeline.Event{}); !errors.Is(err, errEmptyTopic) {
		t.Fatalf("expected empty topic error, got %v", err)
	}
}

func TestBusEnqueueTaskValidation(t *testing.T) {
	var nilBus *Bus
	if err := nilBus.EnqueueTask(pipeline.Task{JobID: "job-1", Stage: pipeline.StageClarify}); !errors.Is(err, errNilBus) {
		t.Fatalf("expected nil bus error, got %v", err)
	}
	b := &Bus{nc: &nats.Conn{}}
	if err := b.EnqueueTask(pipeline.Task{Stage: pipeline.StageClarify}); err == nil {
		t.Fatalf("expected error for missing job id")
	}
	if err := b.EnqueueTask(pipeline.Task{JobID: "job-1", Stage: "unknown"}); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
}

func TestBusSubscribeTasksErrors(t *testing.T) {
	var nilBus *Bus
	if err := nilBus.SubscribeTasks(func(pipeline.Task) error { return nil }); !errors.Is(err, errNilBus) {
		t.Fatalf("expected nil bus error, got %v", err)
	}
	b := &Bus{nc: &nats.Conn{}}
	if err := b.SubscribeTasks(nil); err == nil {
		t.Fatalf("expected nil handler error")
	}
}

func TestBusStatusDefaults(t *testing.T) {
	var nilBus *Bus
	if nilBus.IsConnected() {
		t.Fatalf("expected disconnected nil bus")
	}
	if status := nilBus.Status(); status != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN status, got %s", status)
	}
	if url := nilBus.ConnectedURL(); url != "" {
		t.Fatalf("expected empty url, got %s", url)
	}
}
