package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/etm-sa/landylocal/core/infra/bus"
	"github.com/etm-sa/landylocal/core/infra/logging"
	"github.com/etm-sa/landylocal/core/pipeline"
)

// streamFrame is the wire shape of one progress update.
type streamFrame struct {
	Type    string          `json:"type"`
	JobID   string          `json:"job_id"`
	Status  string          `json:"status,omitempty"`
	Step    string          `json:"step,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func eventFrame(jobID string, ev pipeline.Event) streamFrame {
	return streamFrame{
		Type:    "event",
		JobID:   jobID,
		Status:  string(ev.Status),
		Step:    ev.Step,
		Message: ev.Message,
		Payload: ev.Payload,
	}
}

// authorizeStream validates the token and loads the job it names.
func (s *Server) authorizeStream(w http.ResponseWriter, r *http.Request) (*pipeline.Job, bool) {
	jobID := r.PathValue("id")
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing stream token")
		return nil, false
	}
	claims, err := s.tokens.Verify(token, jobID)
	if err != nil {
		if errors.Is(err, ErrTokenJobMismatch) {
			writeError(w, http.StatusForbidden, "token not valid for this job")
		} else {
			writeError(w, http.StatusUnauthorized, "invalid stream token")
		}
		return nil, false
	}
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "could not load job")
		return nil, false
	}
	if job.UserID != claims.UserID {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

// snapshotEvent reconstructs a terminal event from the stored job, for
// clients that connect after the pipeline already finished.
func snapshotEvent(job *pipeline.Job) (pipeline.Event, bool) {
	if !job.Status.Terminal() {
		return pipeline.Event{}, false
	}
	ev := pipeline.Event{Status: job.Status}
	if job.Status == pipeline.StatusFailed {
		ev.Message = "❌ " + job.Error
		return ev, true
	}
	ev.Message = "🎉 Your landing page is ready!"
	if job.Structure != nil {
		if raw, err := json.Marshal(job.Structure); err == nil {
			ev.Payload = raw
		}
	}
	return ev, true
}

func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	job, ok := s.authorizeStream(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.metrics.IncStreamConnections()
	defer s.metrics.DecStreamConnections()

	writeFrame := func(frame streamFrame) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := writeFrame(streamFrame{Type: "connected", JobID: job.ID, Status: string(job.Status)}); err != nil {
		return
	}

	// Late subscribers to a finished job get the stored outcome and a close.
	if ev, terminal := snapshotEvent(job); terminal {
		_ = writeFrame(eventFrame(job.ID, ev))
		return
	}

	sub, err := s.events.SubscribeEvents(job.ID)
	if err != nil {
		logging.Error("api-gateway", "subscribe events", "job", job.ID, "error", err)
		_ = writeFrame(streamFrame{Type: "error", JobID: job.ID, Message: "event stream unavailable"})
		return
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logging.Error("api-gateway", "unsubscribe events", "job", job.ID, "error", err)
		}
	}()

	lastWrite := time.Now()
	for {
		ev, err := sub.Next(r.Context(), s.streamWait)
		switch {
		case err == nil:
			if err := writeFrame(eventFrame(job.ID, ev)); err != nil {
				return
			}
			lastWrite = time.Now()
			if ev.Status.Terminal() {
				return
			}
		case errors.Is(err, bus.ErrNoEvent):
			if time.Since(lastWrite) >= s.heartbeat {
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
				lastWrite = time.Now()
			}
		default:
			// parent context cancelled or subscription broken
			return
		}
	}
}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	job, ok := s.authorizeStream(w, r)
	if !ok {
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.isAllowedOrigin(r) },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("api-gateway", "ws upgrade failed", "job", job.ID, "error", err)
		return
	}
	defer ws.Close()

	s.metrics.IncStreamConnections()
	defer s.metrics.DecStreamConnections()

	// Reader goroutine surfaces client-side close.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := ws.WriteJSON(streamFrame{Type: "connected", JobID: job.ID, Status: string(job.Status)}); err != nil {
		return
	}

	if ev, terminal := snapshotEvent(job); terminal {
		_ = ws.WriteJSON(eventFrame(job.ID, ev))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		return
	}

	sub, err := s.events.SubscribeEvents(job.ID)
	if err != nil {
		logging.Error("api-gateway", "subscribe events", "job", job.ID, "error", err)
		return
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logging.Error("api-gateway", "unsubscribe events", "job", job.ID, "error", err)
		}
	}()

	lastWrite := time.Now()
	for {
		ev, err := sub.Next(ctx, s.streamWait)
		switch {
		case err == nil:
			if err := ws.WriteJSON(eventFrame(job.ID, ev)); err != nil {
				return
			}
			lastWrite = time.Now()
			if ev.Status.Terminal() {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
		case errors.Is(err, bus.ErrNoEvent):
			if time.Since(lastWrite) >= s.heartbeat {
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
				lastWrite = time.Now()
			}
		default:
			return
		}
	}
}
