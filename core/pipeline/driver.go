package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/etm-sa/landylocal/core/capability"
	"github.com/etm-sa/landylocal/core/infra/config"
	"github.com/etm-sa/landylocal/core/infra/logging"
	"github.com/etm-sa/landylocal/core/infra/metrics"
)

const storeOpTimeout = 2 * time.Second

// FailureRecorder keeps a diagnostic trail of failed jobs. Optional.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, jobID, stage, reason string) error
}

// Driver executes one pipeline stage per task and chains the next one.
type Driver struct {
	store    Store
	events   EventBus
	queue    TaskQueue
	gen      capability.Generator
	search   capability.Searcher
	markets  *config.MarketsConfig
	metrics  metrics.Metrics
	failures FailureRecorder
}

// DriverOptions collects the driver's dependencies.
type DriverOptions struct {
	Store    Store
	Events   EventBus
	Queue    TaskQueue
	Gen      capability.Generator
	Search   capability.Searcher
	Markets  *config.MarketsConfig
	Metrics  metrics.Metrics
	Failures FailureRecorder
}

// NewDriver wires a stage driver. Metrics defaults to a no-op and markets
// to the built-in rules when omitted; everything else is required.
func NewDriver(opts DriverOptions) (*Driver, error) {
	if opts.Store == nil || opts.Events == nil || opts.Queue == nil {
		return nil, errors.New("driver requires store, events and queue")
	}
	if opts.Gen == nil || opts.Search == nil {
		return nil, errors.New("driver requires generator and searcher")
	}
	markets := opts.Markets
	if markets == nil {
		markets = config.DefaultMarkets()
	}
	var m metrics.Metrics = metrics.Noop{}
	if opts.Metrics != nil {
		m = opts.Metrics
	}
	return &Driver{
		store:    opts.Store,
		events:   opts.Events,
		queue:    opts.Queue,
		gen:      opts.Gen,
		search:   opts.Search,
		markets:  markets,
		metrics:  m,
		failures: opts.Failures,
	}, nil
}

func startMessage(stage Stage) string {
	switch stage {
	case StageClarify:
		return "🔍 Analyzing your business profile..."
	case StageResearch:
		return "🔎 Searching for local competitors..."
	case StageCompose:
		return "✍️ Writing your landing page copy..."
	case StageAssemble:
		return "🏗️ Building your landing page structure..."
	default:
		return ""
	}
}

func failLabel(stage Stage) string {
	switch stage {
	case StageClarify:
		return "Profile analysis"
	case StageResearch:
		return "Research"
	case StageCompose:
		return "Copywriting"
	case StageAssemble:
		return "Structure build"
	default:
		return "Stage"
	}
}

// Run executes the task's stage end to end: status move, progress events,
// stage work, step record, and either the next task or job completion.
// A task whose status move is refused is a duplicate delivery; it is
// dropped without touching the job.
func (d *Driver) Run(ctx context.Context, task Task) error {
	if task.JobID == "" || !task.Stage.Valid() {
		return fmt.Errorf("invalid task: job=%q stage=%q", task.JobID, task.Stage)
	}

	if err := d.setStatus(ctx, task.JobID, task.Stage.Status()); err != nil {
		if errors.Is(err, ErrTerminalStatus) || errors.Is(err, ErrInvalidTransition) {
			logging.Info("pipeline", "dropping duplicate task", "job", task.JobID, "stage", string(task.Stage))
			return nil
		}
		return d.fail(ctx, task, err)
	}

	d.publish(task.JobID, Event{
		Status:  task.Stage.Status(),
		Step:    string(task.Stage),
		Message: startMessage(task.Stage),
	})
	d.metrics.IncStageStarted(string(task.Stage))
	started := time.Now()

	var (
		payload   json.RawMessage
		inputData json.RawMessage
		doneEvent Event
		next      *Task
		structure *PageStructure
	)

	switch task.Stage {
	case StageClarify:
		profile, out, err := d.runClarify(ctx, task)
		if err != nil {
			return d.fail(ctx, task, err)
		}
		payload = out
		inputData = marshalQuiet(task.Input)
		doneEvent = Event{
			Status:  StatusResearching,
			Step:    string(StageClarify),
			Message: fmt.Sprintf("✅ Profile clarified. Searching for competitors in %s...", profile.SearchRegion),
			Payload: out,
		}
		next = &Task{JobID: task.JobID, Stage: StageResearch, Input: task.Input, Profile: profile}

	case StageResearch:
		summary, out, err := d.runResearch(ctx, task)
		if err != nil {
			return d.fail(ctx, task, err)
		}
		payload = out
		inputData = marshalQuiet(task.Profile)
		doneEvent = Event{
			Status:  StatusResearching,
			Step:    string(StageResearch),
			Message: "✅ Research complete. Starting copywriting...",
			Payload: out,
		}
		next = &Task{JobID: task.JobID, Stage: StageCompose, Input: task.Input, Profile: task.Profile, Research: summary}

	case StageCompose:
		deck, out, err := d.runCompose(ctx, task)
		if err != nil {
			return d.fail(ctx, task, err)
		}
		payload = out
		inputData = marshalQuiet(map[string]any{"profile": task.Profile, "research": task.Research})
		doneEvent = Event{
			Status:  StatusCopying,
			Step:    string(StageCompose),
			Message: "✅ Copy ready. Building page structure...",
			Payload: out,
		}
		next = &Task{JobID: task.JobID, Stage: StageAssemble, Input: task.Input, Profile: task.Profile, Research: task.Research, Copy: deck}

	case StageAssemble:
		built, err := d.runAssemble(task)
		if err != nil {
			return d.fail(ctx, task, err)
		}
		structure = built
		payload = marshalQuiet(built)
		inputData = marshalQuiet(task.Copy)
		doneEvent = Event{
			Status:  StatusCompleted,
			Step:    string(StageAssemble),
			Message: "🎉 Your landing page is ready!",
			Payload: payload,
		}
	}

	duration := time.Since(started)
	if err := d.appendStep(ctx, &JobStep{
		JobID:      task.JobID,
		StepName:   string(task.Stage),
		StepOrder:  task.Stage.Order(),
		InputData:  inputData,
		OutputData: payload,
		DurationMS: duration.Milliseconds(),
	}); err != nil {
		return d.fail(ctx, task, err)
	}

	if structure != nil {
		if err := d.finish(ctx, task.JobID, structure); err != nil {
			return d.fail(ctx, task, err)
		}
	}

	d.publish(task.JobID, doneEvent)
	d.metrics.IncStageCompleted(string(task.Stage), "ok")
	d.metrics.ObserveStageDuration(string(task.Stage), duration.Seconds())
	logging.Info("pipeline", "stage complete",
		"job", task.JobID, "stage", string(task.Stage), "duration_ms", duration.Milliseconds())

	if next != nil {
		if err := d.queue.EnqueueTask(*next); err != nil {
			return d.fail(ctx, task, fmt.Errorf("enqueue %s: %w", next.Stage, err))
		}
	}
	return nil
}

// fail marks the job failed and emits the terminal event. The first terminal
// status wins at the store level, so a racing duplicate cannot overwrite it.
func (d *Driver) fail(ctx context.Context, task Task, cause error) error {
	reason := fmt.Sprintf("%s failed: %v", failLabel(task.Stage), cause)

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeOpTimeout)
	defer cancel()
	if err := d.store.SetFailed(opCtx, task.JobID, reason); err != nil {
		logging.Error("pipeline", "set failed", "job", task.JobID, "error", err)
	}
	d.publish(task.JobID, Event{
		Status:  StatusFailed,
		Step:    string(task.Stage),
		Message: "❌ " + reason,
	})
	if d.failures != nil {
		if err := d.failures.RecordFailure(opCtx, task.JobID, string(task.Stage), reason); err != nil {
			logging.Error("pipeline", "record failure", "job", task.JobID, "error", err)
		}
	}
	d.metrics.IncStageCompleted(string(task.Stage), "error")
	logging.Error("pipeline", "stage failed", "job", task.JobID, "stage", string(task.Stage), "error", cause)
	return cause
}

func (d *Driver) finish(ctx context.Context, jobID string, structure *PageStructure) error {
	opCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	if err := d.store.SetStructure(opCtx, jobID, structure); err != nil {
		return fmt.Errorf("store structure: %w", err)
	}
	if err := d.store.SetStatus(opCtx, jobID, StatusCompleted); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (d *Driver) setStatus(ctx context.Context, jobID string, status Status) error {
	opCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	return d.store.SetStatus(opCtx, jobID, status)
}

func (d *Driver) appendStep(ctx context.Context, step *JobStep) error {
	opCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	return d.store.AppendStep(opCtx, step)
}

func (d *Driver) publish(jobID string, ev Event) {
	if err := d.events.PublishEvent(jobID, ev); err != nil {
		logging.Error("pipeline", "publish event", "job", jobID, "error", err)
	}
}

func marshalQuiet(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
