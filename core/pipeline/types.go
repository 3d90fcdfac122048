package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Store sentinel errors. Implementations wrap these so callers can
// distinguish duplicate deliveries from real failures.
var (
	ErrJobExists         = errors.New("job already exists")
	ErrJobNotFound       = errors.New("job not found")
	ErrTerminalStatus    = errors.New("job is in a terminal status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusResearching Status = "researching"
	StatusCopying     Status = "copying"
	StatusGenerating  Status = "generating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:     0,
	StatusResearching: 1,
	StatusCopying:     2,
	StatusGenerating:  3,
	StatusCompleted:   4,
	StatusFailed:      4,
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses along the pipeline. Both terminals share the top rank.
func (s Status) Rank() int {
	return statusRank[s]
}

// Stage identifies one unit of pipeline work.
type Stage string

const (
	StageClarify  Stage = "clarify"
	StageResearch Stage = "research"
	StageCompose  Stage = "compose"
	StageAssemble Stage = "assemble"
)

// Next returns the stage that follows s, or false for the last stage.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageClarify:
		return StageResearch, true
	case StageResearch:
		return StageCompose, true
	case StageCompose:
		return StageAssemble, true
	default:
		return "", false
	}
}

// Order returns the 1-based position of the stage in the pipeline.
func (s Stage) Order() int {
	switch s {
	case StageClarify:
		return 1
	case StageResearch:
		return 2
	case StageCompose:
		return 3
	case StageAssemble:
		return 4
	default:
		return 0
	}
}

// Status returns the job status a running stage maps to.
func (s Stage) Status() Status {
	switch s {
	case StageCompose:
		return StatusCopying
	case StageAssemble:
		return StatusGenerating
	default:
		return StatusResearching
	}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Order() > 0
}

// JobInput is the raw business brief submitted by a customer.
type JobInput struct {
	BusinessName    string   `json:"business_name"`
	BusinessType    string   `json:"business_type"`
	City            string   `json:"city"`
	Country         string   `json:"country"`
	Locale          string   `json:"locale"`
	Direction       string   `json:"direction"`
	Description     string   `json:"description,omitempty"`
	CompetitorURLs  []string `json:"competitor_urls,omitempty"`
	AdditionalNotes string   `json:"additional_notes,omitempty"`
}

// Job is the persistent record of one generation request.
type Job struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Status    Status         `json:"status"`
	Input     *JobInput      `json:"input,omitempty"`
	Structure *PageStructure `json:"structure,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Steps     []*JobStep     `json:"steps,omitempty"`
}

// JobStep records the outcome of one completed pipeline stage.
type JobStep struct {
	JobID      string          `json:"job_id"`
	StepName   string          `json:"step_name"`
	StepOrder  int             `json:"step_order"`
	InputData  json.RawMessage `json:"input_data,omitempty"`
	OutputData json.RawMessage `json:"output_data,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Task is the queued unit of work that moves a job through one stage.
// Each task carries the accumulated outputs of the stages before it so
// workers never have to re-read upstream results.
type Task struct {
	JobID    string           `json:"job_id"`
	Stage    Stage            `json:"stage"`
	Input    *JobInput        `json:"input"`
	Profile  *BusinessProfile `json:"profile,omitempty"`
	Research *ResearchSummary `json:"research,omitempty"`
	Copy     *PageCopy        `json:"copy,omitempty"`
}

// Event is one progress update published on a job's topic.
type Event struct {
	Status  Status          `json:"status"`
	Step    string          `json:"step,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BusinessProfile is the structured brief produced by the clarify stage.
type BusinessProfile struct {
	BusinessName    string `json:"business_name"`
	BusinessType    string `json:"business_type"`
	TargetCity      string `json:"target_city"`
	TargetCountry   string `json:"target_country"`
	SearchNiche     string `json:"search_niche"`
	SearchRegion    string `json:"search_region"`
	Locale          string `json:"locale"`
	Direction       string `json:"direction"`
	Dialect         string `json:"dialect"`
	Tone            string `json:"tone"`
	USP             string `json:"usp"`
	AdditionalNotes string `json:"additional_notes,omitempty"`
}

// Competitor is one competitor found during research.
type Competitor struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// ResearchSummary is the market picture produced by the research stage.
type ResearchSummary struct {
	Competitors     []Competitor `json:"competitors"`
	LocalPainPoints []string     `json:"local_pain_points"`
	CulturalHooks   []string     `json:"cultural_hooks"`
}

// CopyItem is one titled block of marketing copy.
type CopyItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HeroCopy is the above-the-fold copy of a landing page.
type HeroCopy struct {
	Headline    string `json:"headline"`
	Subheadline string `json:"subheadline"`
	CTAText     string `json:"cta_text"`
}

// PageCopy is the full copy deck produced by the compose stage.
type PageCopy struct {
	Hero          HeroCopy   `json:"hero"`
	Features      []CopyItem `json:"features"`
	Benefits      []CopyItem `json:"benefits"`
	CTAHeadline   string     `json:"cta_headline"`
	CTASubtext    string     `json:"cta_subtext"`
	CTAButtonText string     `json:"cta_button_text"`
	SocialProof   string     `json:"social_proof"`
}

// ThemeSpec is the styling applied to an assembled page.
type ThemeSpec struct {
	PrimaryColor string `json:"primary_color"`
	FontFamily   string `json:"font_family"`
	BorderRadius string `json:"border_radius"`
}

// LayoutBlock is one renderable section of an assembled page.
type LayoutBlock struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// PageStructure is the final renderable artifact of a completed job.
type PageStructure struct {
	BrandName string        `json:"brand_name"`
	Theme     ThemeSpec     `json:"theme"`
	RTL       bool          `json:"rtl"`
	Locale    string        `json:"locale"`
	Layout    []LayoutBlock `json:"layout"`
}

// Store is the durable record of jobs and their step history.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	SetStatus(ctx context.Context, jobID string, status Status) error
	SetFailed(ctx context.Context, jobID, reason string) error
	SetStructure(ctx context.Context, jobID string, structure *PageStructure) error
	AppendStep(ctx context.Context, step *JobStep) error
	ListSteps(ctx context.Context, jobID string) ([]*JobStep, error)
	ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*Job, error)
	Ping(ctx context.Context) error
	Close() error
}

// EventBus publishes progress events on a job's topic.
type EventBus interface {
	PublishEvent(jobID string, ev Event) error
}

// TaskQueue hands stage tasks to the worker pool.
type TaskQueue interface {
	EnqueueTask(task Task) error
}
