package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/etm-sa/landylocal/core/pipeline"
)

// Bus is a thin wrapper over a NATS connection that speaks JSON payloads.
// Pipeline tasks ride a durable queue subject; per-job progress events ride
// plain topics so every subscriber sees every event.
type Bus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
	ackWait   time.Duration
}

const (
	envUseJetStream = "NATS_USE_JETSTREAM"
	envJSAckWait    = "NATS_JS_ACK_WAIT"
	envJSMaxAge     = "NATS_JS_MAX_AGE"

	defaultAckWait = 5 * time.Minute
	defaultMaxAge  = 24 * time.Hour

	streamPipeline = "LANDY_PIPELINE"

	// TaskSubject carries every queued stage task.
	TaskSubject = "pipeline.tasks"
	// TaskQueueGroup is the worker queue group; one worker per task.
	TaskQueueGroup = "pipeline-workers"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
	// ErrNoEvent is returned when waiting for the next event times out.
	ErrNoEvent = errors.New("no event available")
)

// EventSubject returns the per-job progress topic.
func EventSubject(jobID string) string {
	return "job." + jobID + ".events"
}

// New dials NATS at the provided URL.
func New(url string) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("landy-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[BUS] disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b := &Bus{nc: nc, ackWait: defaultAckWait}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// PublishEvent publishes a progress event on the job's topic. Events are
// fire-and-forget: a job with no listeners drops them.
func (b *Bus) PublishEvent(jobID string, ev pipeline.Event) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if jobID == "" {
		return errEmptyTopic
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.nc.Publish(EventSubject(jobID), data)
}

// EnqueueTask puts a stage task on the durable work queue.
func (b *Bus) EnqueueTask(task pipeline.Task) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if task.JobID == "" || !task.Stage.Valid() {
		return fmt.Errorf("invalid task: job=%q stage=%q", task.JobID, task.Stage)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if b.jsEnabled {
		// msg-id dedupes accidental double-enqueues inside the duplicate window
		_, err = b.js.Publish(TaskSubject, data, nats.MsgId("task:"+task.JobID+":"+string(task.Stage)))
		return err
	}
	return b.nc.Publish(TaskSubject, data)
}

// SubscribeTasks attaches a queue-group consumer for stage tasks. The handler
// runs once per delivery; its error is logged and the message acked anyway,
// so a failed stage is never retried by the queue.
func (b *Bus) SubscribeTasks(handler func(pipeline.Task) error) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	if b.jsEnabled {
		cb := func(msg *nats.Msg) {
			var task pipeline.Task
			if err := json.Unmarshal(msg.Data, &task); err != nil {
				log.Printf("nats bus: failed to unmarshal task: %v", err)
				_ = msg.Ack()
				return
			}
			if err := handler(task); err != nil {
				log.Printf("nats bus: task handler error (ack): %v", err)
			}
			_ = msg.Ack()
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(b.ackWait),
			nats.MaxAckPending(256),
			nats.Durable(durableName(TaskSubject, TaskQueueGroup)),
		}
		_, err := b.js.QueueSubscribe(TaskSubject, TaskQueueGroup, cb, opts...)
		return err
	}

	cb := func(msg *nats.Msg) {
		var task pipeline.Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			log.Printf("nats bus: failed to unmarshal task: %v", err)
			return
		}
		if err := handler(task); err != nil {
			log.Printf("nats bus: task handler error: %v", err)
		}
	}
	_, err := b.nc.QueueSubscribe(TaskSubject, TaskQueueGroup, cb)
	return err
}

// EventSub is a synchronous subscription to one job's progress topic.
type EventSub struct {
	sub *nats.Subscription
}

// SubscribeEvents opens a synchronous subscription to a job's topic. The
// caller drains it with Next and must Unsubscribe when done.
func (b *Bus) SubscribeEvents(jobID string) (*EventSub, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if jobID == "" {
		return nil, errEmptyTopic
	}
	sub, err := b.nc.SubscribeSync(EventSubject(jobID))
	if err != nil {
		return nil, err
	}
	return &EventSub{sub: sub}, nil
}

// Next blocks for up to wait for the next event. It returns ErrNoEvent on
// timeout and the context's error when the parent context is done.
func (s *EventSub) Next(ctx context.Context, wait time.Duration) (pipeline.Event, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	msg, err := s.sub.NextMsgWithContext(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Event{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return pipeline.Event{}, ErrNoEvent
		}
		return pipeline.Event{}, err
	}
	var ev pipeline.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return pipeline.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Unsubscribe tears down the subscription.
func (s *EventSub) Unsubscribe() error {
	if s == nil || s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (b *Bus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *Bus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func (b *Bus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func initJetStreamEnabled() bool {
	val := strings.TrimSpace(os.Getenv(envUseJetStream))
	if val == "" {
		return false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func (b *Bus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil {
		return
	}
	if !initJetStreamEnabled() {
		return
	}
	ackWait := defaultAckWait
	if v := strings.TrimSpace(os.Getenv(envJSAckWait)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ackWait = d
		}
	}
	maxAge := defaultMaxAge
	if v := strings.TrimSpace(os.Getenv(envJSMaxAge)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			maxAge = d
		}
	}

	js, err := b.nc.JetStream()
	if err != nil {
		log.Printf("[BUS] jetstream init failed: %v", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		log.Printf("[BUS] jetstream not available: %v", err)
		return
	}

	// Ensure the task stream exists (best-effort). Events stay on plain
	// subjects: progress is ephemeral and replay would confuse live viewers.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamPipeline,
		Subjects:   []string{"pipeline.>"},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		if _, infoErr := js.StreamInfo(streamPipeline); infoErr != nil {
			log.Printf("[BUS] jetstream ensure stream failed name=%s: %v", streamPipeline, err)
			return
		}
	} else {
		log.Printf("[BUS] jetstream stream ensured name=%s max_age=%s", streamPipeline, maxAge)
	}

	b.js = js
	b.jsEnabled = true
	b.ackWait = ackWait
	log.Printf("[BUS] jetstream enabled ack_wait=%s", ackWait)
}

func durableName(subject, queue string) string {
	name := strings.ReplaceAll(subject, ".", "_")
	name = strings.ReplaceAll(name, "*", "STAR")
	name = strings.ReplaceAll(name, ">", "GT")
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if queue == "" {
		return "dur_" + name
	}
	q := strings.ReplaceAll(queue, ".", "_")
	q = strings.ReplaceAll(q, "-", "_")
	q = strings.TrimSpace(q)
	if q == "" {
		return "dur_" + name
	}
	return "dur_" + q + "__" + name
}
