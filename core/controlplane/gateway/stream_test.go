package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/etm-sa/landylocal/core/pipeline"
)

func streamToken(t *testing.T, rig *gatewayRig, jobID, userID string) string {
	t.Helper()
	token, err := rig.srv.tokens.Issue(jobID, userID)
	if err != nil {
		t.Fatalf("issue stream token: %v", err)
	}
	return token
}

func parseSSEFrames(t *testing.T, body string) []streamFrame {
	t.Helper()
	var frames []streamFrame
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("parse frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestStreamSSEDeliversEventsAndCloses(t *testing.T) {
	rig := newGatewayRig(t)
	seedJob(t, rig.store, "job-s", "user-1", pipeline.StatusPending, nil)
	rig.source.stream.events = []pipeline.Event{
		{Status: pipeline.StatusResearching, Step: "clarify", Message: "🔍 Analyzing your business..."},
		{Status: pipeline.StatusCompleted, Step: "assemble", Message: "🎉 Your landing page is ready!"},
	}
	handler := rig.srv.Handler()

	token := streamToken(t, rig, "job-s", "user-1")
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/jobs/job-s/stream?token="+token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatal("proxy buffering should be disabled")
	}

	frames := parseSSEFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %s", len(frames), rec.Body.String())
	}
	if frames[0].Type != "connected" || frames[0].JobID != "job-s" {
		t.Fatalf("unexpected first frame: %+v", frames[0])
	}
	if frames[1].Message != "🔍 Analyzing your business..." {
		t.Fatalf("unexpected event frame: %+v", frames[1])
	}
	if frames[2].Status != "completed" {
		t.Fatalf("stream should end on terminal event, got %+v", frames[2])
	}
}

func TestStreamSSEHeartbeat(t *testing.T) {
	rig := newGatewayRig(t)
	seedJob(t, rig.store, "job-h", "user-1", pipeline.StatusPending, nil)
	rig.source.stream.idleBefore = 10
	rig.source.stream.events = []pipeline.Event{
		{Status: pipeline.StatusFailed, Message: "❌ Research failed: model unavailable"},
	}
	handler := rig.srv.Handler()

	token := streamToken(t, rig, "job-h", "user-1")
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/jobs/job-h/stream?token="+token, "", "")
	if !strings.Contains(rec.Body.String(), ": ping") {
		t.Fatalf("expected heartbeat comment in stream: %s", rec.Body.String())
	}
	frames := parseSSEFrames(t, rec.Body.String())
	last := frames[len(frames)-1]
	if last.Status != "failed" || !strings.HasPrefix(last.Message, "❌") {
		t.Fatalf("unexpected terminal frame: %+v", last)
	}
}

func TestStreamSSELateSubscriberGetsSnapshot(t *testing.T) {
	rig := newGatewayRig(t)
	structure := &pipeline.PageStructure{BrandName: "Etm", RTL: true, Locale: "ar-SA",
		Layout: []pipeline.LayoutBlock{{ID: "hero-1", Type: "hero", Data: map[string]any{}}}}
	seedJob(t, rig.store, "job-late", "user-1", pipeline.StatusCompleted, structure)
	handler := rig.srv.Handler()

	token := streamToken(t, rig, "job-late", "user-1")
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/jobs/job-late/stream?token="+token, "", "")
	frames := parseSSEFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected connected + snapshot, got %d frames", len(frames))
	}
	if frames[1].Status != "completed" || len(frames[1].Payload) == 0 {
		t.Fatalf("snapshot frame missing structure: %+v", frames[1])
	}
}

func TestStreamTokenScoping(t *testing.T) {
	rig := newGatewayRig(t)
	seedJob(t, rig.store, "job-a", "user-1", pipeline.StatusPending, nil)
	seedJob(t, rig.store, "job-b", "user-1", pipeline.StatusPending, nil)
	handler := rig.srv.Handler()

	// token minted for job-b cannot stream job-a
	wrongJob := streamToken(t, rig, "job-b", "user-1")
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/jobs/job-a/stream?token="+wrongJob, "", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("cross-job token: expected 403, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/jobs/job-a/stream", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/jobs/job-a/stream?token=garbage", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rec.Code)
	}
	// token owner must match job owner
	stranger := streamToken(t, rig, "job-a", "user-9")
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/jobs/job-a/stream?token="+stranger, "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("stranger token: expected 404, got %d", rec.Code)
	}
}

func TestStreamWebSocket(t *testing.T) {
	rig := newGatewayRig(t)
	seedJob(t, rig.store, "job-ws", "user-1", pipeline.StatusPending, nil)
	rig.source.stream.events = []pipeline.Event{
		{Status: pipeline.StatusResearching, Step: "research", Message: "🔎 Researching your market..."},
		{Status: pipeline.StatusCompleted, Step: "assemble", Message: "🎉 Your landing page is ready!"},
	}
	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()

	token := streamToken(t, rig, "job-ws", "user-1")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/jobs/job-ws/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frames []streamFrame
	for {
		var frame streamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			break
		}
		frames = append(frames, frame)
		if frame.Status == "completed" {
			break
		}
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].Type != "connected" {
		t.Fatalf("unexpected first frame: %+v", frames[0])
	}
	if frames[2].Status != "completed" {
		t.Fatalf("unexpected final frame: %+v", frames[2])
	}
}
