package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV", "")
	if got := envOr("TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value")
	}
	t.Setenv("TEST_ENV", " value ")
	if got := envOr("TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected trimmed env value")
	}
}

func TestNewFlagSetDefaults(t *testing.T) {
	t.Setenv("LANDY_GATEWAY", "http://example.com")
	t.Setenv("LANDY_TOKEN", "token")
	fs := newFlagSet("test")
	if *fs.gateway != "http://example.com" {
		t.Fatalf("expected gateway from env, got %s", *fs.gateway)
	}
	if *fs.token != "token" {
		t.Fatalf("expected token from env, got %s", *fs.token)
	}
}

func TestNewClientTrimsGateway(t *testing.T) {
	c := newClient("http://localhost:8080/", "key")
	if c.base != "http://localhost:8080" {
		t.Fatalf("expected trimmed base url, got %s", c.base)
	}
	if c.token != "key" {
		t.Fatalf("expected token on client")
	}
}

func TestSplitComma(t *testing.T) {
	if got := splitComma(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	got := splitComma(" https://a.example , ,https://b.example ")
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestClientSubmitJob(t *testing.T) {
	var captured map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-1","status":"pending","stream_token":"st","stream_url":"/api/v1/jobs/job-1/stream?token=st"}`))
	}))
	defer ts.Close()

	c := newClient(ts.URL, "token-1")
	resp, err := c.SubmitJob(context.Background(), map[string]any{"business_name": "Al Noor Clinic"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.JobID != "job-1" || resp.StreamToken != "st" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if captured["business_name"] != "Al Noor Clinic" {
		t.Fatalf("request body not forwarded: %v", captured)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"business_name must be between 2 and 100 characters"}`))
	}))
	defer ts.Close()

	c := newClient(ts.URL, "")
	_, err := c.SubmitJob(context.Background(), map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "business_name") {
		t.Fatalf("expected surfaced API error, got %v", err)
	}
}

func TestFollowStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "st" {
			t.Fatalf("missing stream token")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"type":"connected","job_id":"job-1","status":"pending"}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"event","status":"researching","message":"🔍 Analyzing your business..."}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"event","status":"completed","message":"🎉 Your landing page is ready!"}`+"\n\n")
	}))
	defer ts.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	old := os.Stdout
	os.Stdout = w
	streamErr := followStream(ts.URL, "job-1", "st")
	_ = w.Close()
	os.Stdout = old
	if streamErr != nil {
		t.Fatalf("follow stream: %v", streamErr)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "connected (status: pending)") {
		t.Fatalf("missing connected line: %s", out)
	}
	if !strings.Contains(out, "🎉 Your landing page is ready!") {
		t.Fatalf("missing terminal message: %s", out)
	}
}
