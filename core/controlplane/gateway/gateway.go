package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/etm-sa/landylocal/core/infra/logging"
	"github.com/etm-sa/landylocal/core/infra/memory"
	infraMetrics "github.com/etm-sa/landylocal/core/infra/metrics"
	"github.com/etm-sa/landylocal/core/pipeline"
)

const (
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	maxJobPayloadBytes    = 64 << 10

	minFieldChars       = 2
	maxFieldChars       = 100
	maxDescriptionChars = 2000
	maxCompetitorURLs   = 5
)

// EventStream yields events for one job until unsubscribed.
type EventStream interface {
	Next(ctx context.Context, wait time.Duration) (pipeline.Event, error)
	Unsubscribe() error
}

// EventSource opens per-job event streams.
type EventSource interface {
	SubscribeEvents(jobID string) (EventStream, error)
}

// BusInfo exposes broker health for the status endpoint.
type BusInfo interface {
	IsConnected() bool
	Status() string
	ConnectedURL() string
}

// FailureLister reads the recent stage-failure log.
type FailureLister interface {
	Recent(ctx context.Context, limit int64) ([]memory.FailureEntry, error)
}

type Server struct {
	store    pipeline.Store
	queue    pipeline.TaskQueue
	events   EventSource
	verifier IdentityVerifier
	tokens   *StreamTokenIssuer
	failures FailureLister
	busInfo  BusInfo

	metrics        infraMetrics.GatewayMetrics
	allowedOrigins string
	heartbeat      time.Duration
	streamWait     time.Duration
	started        time.Time
	limiter        *tokenBucket
}

// Options wires the gateway's dependencies.
type Options struct {
	Store    pipeline.Store
	Queue    pipeline.TaskQueue
	Events   EventSource
	Verifier IdentityVerifier
	Tokens   *StreamTokenIssuer
	Failures FailureLister
	BusInfo  BusInfo
	Metrics  infraMetrics.GatewayMetrics

	// AllowedOrigins is a comma-separated origin list; "*" allows all.
	AllowedOrigins string
	// Heartbeat is the SSE keepalive interval.
	Heartbeat time.Duration
}

// NewServer builds the HTTP gateway.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("gateway requires a job store")
	}
	if opts.Queue == nil {
		return nil, errors.New("gateway requires a task queue")
	}
	if opts.Events == nil {
		return nil, errors.New("gateway requires an event source")
	}
	if opts.Verifier == nil {
		return nil, errors.New("gateway requires an identity verifier")
	}
	if opts.Tokens == nil {
		return nil, errors.New("gateway requires a stream token issuer")
	}
	if opts.Metrics == nil {
		opts.Metrics = infraMetrics.NewNoopGateway()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Server{
		store:          opts.Store,
		queue:          opts.Queue,
		events:         opts.Events,
		verifier:       opts.Verifier,
		tokens:         opts.Tokens,
		failures:       opts.Failures,
		busInfo:        opts.BusInfo,
		metrics:        opts.Metrics,
		allowedOrigins: opts.AllowedOrigins,
		heartbeat:      opts.Heartbeat,
		streamWait:     time.Second,
		started:        time.Now(),
		limiter:        newTokenBucketFromEnv(),
	}, nil
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.instrumented("/api/v1/status", s.handleStatus))

	mux.HandleFunc("POST /api/v1/jobs", s.instrumented("/api/v1/jobs", s.requireIdentity(s.handleCreateJob)))
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.instrumented("/api/v1/jobs/{id}", s.requireIdentity(s.handleGetJob)))
	mux.HandleFunc("GET /api/v1/jobs/{id}/stream", s.instrumented("/api/v1/jobs/{id}/stream", s.handleStreamSSE))
	mux.HandleFunc("GET /api/v1/jobs/{id}/ws", s.instrumented("/api/v1/jobs/{id}/ws", s.handleStreamWS))

	mux.HandleFunc("GET /api/v1/public/{id}", s.instrumented("/api/v1/public/{id}", s.handleGetPublic))

	mux.HandleFunc("GET /api/v1/admin/failures", s.instrumented("/api/v1/admin/failures", s.requireIdentity(s.handleListFailures)))

	return s.corsMiddleware(s.rateLimitMiddleware(mux))
}

// Start serves HTTP until the listener fails.
func (s *Server) Start(httpAddr string) error {
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logging.Info("api-gateway", "http listening", "addr", httpAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("api-gateway", "http server error", "error", err)
		return err
	}
	return nil
}

// --- Middleware ---

type tokenBucket struct {
	tokens chan struct{}
}

func newTokenBucket(rps, burst int) *tokenBucket {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	tb := &tokenBucket{tokens: make(chan struct{}, burst)}
	for i := 0; i < burst; i++ {
		tb.tokens <- struct{}{}
	}
	interval := time.Second / time.Duration(rps)
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			select {
			case tb.tokens <- struct{}{}:
			default:
			}
		}
	}()
	return tb
}

func newTokenBucketFromEnv() *tokenBucket {
	rps := defaultRateLimitRPS
	burst := defaultRateLimitBurst
	if val := os.Getenv("API_RATE_LIMIT_RPS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			rps = parsed
		}
	}
	if val := os.Getenv("API_RATE_LIMIT_BURST"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			burst = parsed
		}
	}
	return newTokenBucket(rps, burst)
}

func (tb *tokenBucket) Allow() bool {
	if tb == nil {
		return true
	}
	select {
	case <-tb.tokens:
		return true
	default:
		return false
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			if !s.isAllowedOrigin(r) {
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients often omit Origin; treat as allowed.
		return true
	}
	raw := strings.TrimSpace(s.allowedOrigins)
	if raw == "*" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if raw == "" {
		host := strings.ToLower(u.Hostname())
		switch host {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		reqHost := strings.ToLower(requestHostname(r.Host))
		return reqHost != "" && host == reqHost
	}
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == origin {
			return true
		}
	}
	return false
}

func requestHostname(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil && host != "" {
		return host
	}
	return hostport
}

// requireIdentity authenticates the bearer token and passes the user id on.
func (s *Server) requireIdentity(fn func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		fn(w, r, userID)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record metrics.
func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptimeSeconds := int64(0)
	if !s.started.IsZero() {
		uptimeSeconds = int64(now.Sub(s.started).Seconds())
	}

	natsConnected := false
	natsStatus := "UNKNOWN"
	natsURL := ""
	if s.busInfo != nil {
		natsConnected = s.busInfo.IsConnected()
		natsStatus = s.busInfo.Status()
		natsURL = s.busInfo.ConnectedURL()
	}

	redisOK := false
	redisErr := ""
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	err := s.store.Ping(ctx)
	cancel()
	if err != nil {
		redisErr = err.Error()
	} else {
		redisOK = true
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"time":           now.Format(time.RFC3339),
		"uptime_seconds": uptimeSeconds,
		"nats": map[string]any{
			"connected": natsConnected,
			"status":    natsStatus,
			"url":       natsURL,
		},
		"redis": map[string]any{
			"ok":    redisOK,
			"error": redisErr,
		},
	})
}

type createJobRequest struct {
	BusinessName    string   `json:"business_name"`
	BusinessType    string   `json:"business_type"`
	City            string   `json:"city"`
	Country         string   `json:"country"`
	Locale          string   `json:"locale"`
	Direction       string   `json:"direction"`
	Description     string   `json:"description"`
	CompetitorURLs  []string `json:"competitor_urls"`
	AdditionalNotes string   `json:"additional_notes"`
}

func (req *createJobRequest) validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"business_name", req.BusinessName},
		{"business_type", req.BusinessType},
		{"city", req.City},
		{"country", req.Country},
	} {
		v := strings.TrimSpace(field.value)
		if len(v) < minFieldChars || len(v) > maxFieldChars {
			return fmt.Errorf("%s must be between %d and %d characters", field.name, minFieldChars, maxFieldChars)
		}
	}
	if req.Direction != "" && req.Direction != "rtl" && req.Direction != "ltr" {
		return errors.New("direction must be rtl or ltr")
	}
	if len(req.Description) > maxDescriptionChars {
		return fmt.Errorf("description must be at most %d characters", maxDescriptionChars)
	}
	if len(req.CompetitorURLs) > maxCompetitorURLs {
		return fmt.Errorf("at most %d competitor URLs allowed", maxCompetitorURLs)
	}
	for _, raw := range req.CompetitorURLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid competitor URL: %s", raw)
		}
	}
	return nil
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request, userID string) {
	var req createJobRequest
	body := http.MaxBytesReader(w, r.Body, maxJobPayloadBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Locale == "" {
		req.Locale = "ar-SA"
	}
	if req.Direction == "" {
		req.Direction = "rtl"
	}

	input := &pipeline.JobInput{
		BusinessName:    strings.TrimSpace(req.BusinessName),
		BusinessType:    strings.TrimSpace(req.BusinessType),
		City:            strings.TrimSpace(req.City),
		Country:         strings.TrimSpace(req.Country),
		Locale:          req.Locale,
		Direction:       req.Direction,
		Description:     strings.TrimSpace(req.Description),
		CompetitorURLs:  req.CompetitorURLs,
		AdditionalNotes: strings.TrimSpace(req.AdditionalNotes),
	}
	job := &pipeline.Job{
		ID:     uuid.NewString(),
		UserID: userID,
		Input:  input,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		logging.Error("api-gateway", "create job", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	if err := s.queue.EnqueueTask(pipeline.Task{JobID: job.ID, Stage: pipeline.StageClarify, Input: input}); err != nil {
		logging.Error("api-gateway", "enqueue clarify task", "job", job.ID, "error", err)
		failCtx := context.WithoutCancel(r.Context())
		if ferr := s.store.SetFailed(failCtx, job.ID, "could not start pipeline"); ferr != nil {
			logging.Error("api-gateway", "mark job failed", "job", job.ID, "error", ferr)
		}
		writeError(w, http.StatusServiceUnavailable, "could not start pipeline")
		return
	}
	streamToken, err := s.tokens.Issue(job.ID, userID)
	if err != nil {
		logging.Error("api-gateway", "issue stream token", "job", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue stream token")
		return
	}
	s.metrics.IncJobsCreated()
	logging.Info("api-gateway", "job created", "job", job.ID, "user", userID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       job.ID,
		"status":       string(pipeline.StatusPending),
		"stream_token": streamToken,
		"stream_url":   "/api/v1/jobs/" + job.ID + "/stream?token=" + url.QueryEscape(streamToken),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	// Other users' jobs look identical to missing ones.
	if job.UserID != userID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleGetPublic serves the assembled page structure with no auth. Only
// completed jobs are visible here; everything else 404s.
func (s *Server) handleGetPublic(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load page")
		return
	}
	if job.Status != pipeline.StatusCompleted || job.Structure == nil {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	writeJSON(w, http.StatusOK, publicPage{
		ID:        job.ID,
		Status:    job.Status,
		Structure: job.Structure,
		CreatedAt: job.CreatedAt,
	})
}

// publicPage is the unauthenticated view of a completed job. It carries no
// owner or input fields.
type publicPage struct {
	ID        string                  `json:"id"`
	Status    pipeline.Status         `json:"status"`
	Structure *pipeline.PageStructure `json:"structure"`
	CreatedAt time.Time               `json:"created_at"`
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request, userID string) {
	if s.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure log unavailable")
		return
	}
	limit := int64(50)
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.ParseInt(q, 10, 64); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	entries, err := s.failures.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list failures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
