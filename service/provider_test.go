package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(srv *httptest.Server) *ProviderClient {
	return &ProviderClient{
		Addr:   srv.URL,
		APIKey: "test-key",
		HTTP:   &http.Client{Timeout: 5 * time.Second},
	}
}

func TestJobStateNormalization(t *testing.T) {
	cases := map[string]JobState{
		"COMPLETED":   JobCompleted,
		"completed":   JobCompleted,
		"succeeded":   JobCompleted,
		"success":     JobCompleted,
		"finished":    JobCompleted,
		"FAILED":      JobFailed,
		"error":       JobFailed,
		"cancelled":   JobFailed,
		"QUEUED":      JobRunning,
		"IN_QUEUE":    JobRunning,
		"IN_PROGRESS": JobRunning,
		"processing":  JobRunning,
		"":            JobRunning,
	}
	for status, want := range cases {
		j := Job{Status: status}
		if got := j.State(); got != want {
			t.Errorf("State(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestProviderSubmit(t *testing.T) {
	var gotPath, gotAuth, gotIdem string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-123"})
	}))
	defer srv.Close()

	c := testClient(srv)
	id, err := c.Submit(context.Background(), KindVideo, map[string]interface{}{
		"prompt": "a cat",
	}, "video:t1:0")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-123" {
		t.Fatalf("job id %q", id)
	}
	if gotPath != "/v1/generate" {
		t.Fatalf("path %q", gotPath)
	}
	if gotAuth != "Key test-key" {
		t.Fatalf("auth header %q", gotAuth)
	}
	if gotIdem != "video:t1:0" {
		t.Fatalf("idempotency key %q", gotIdem)
	}
	if gotBody["type"] != KindVideo {
		t.Fatalf("request type %v", gotBody["type"])
	}
}

func TestProviderSubmitJobIDFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-456"})
	}))
	defer srv.Close()

	id, err := testClient(srv).Submit(context.Background(), KindImage, nil, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-456" {
		t.Fatalf("job id %q", id)
	}
}

func TestProviderSubmitErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := testClient(srv).Submit(context.Background(), KindImage, nil, ""); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestProviderJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job-123" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "COMPLETED",
			"progress": 100,
			"output":   map[string]string{"url": "http://x/out.mp4"},
		})
	}))
	defer srv.Close()

	job, err := testClient(srv).Job(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	// 响应没回 id 时用请求的 id 补上
	if job.ID != "job-123" {
		t.Fatalf("job id %q", job.ID)
	}
	if job.State() != JobCompleted {
		t.Fatalf("state for %q", job.Status)
	}
	if job.Output.URL != "http://x/out.mp4" {
		t.Fatalf("output url %q", job.Output.URL)
	}
}

func TestProviderAwaitThroughHTTP(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "IN_PROGRESS"
		if polls >= 3 {
			status = "COMPLETED"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "job-9",
			"status": status,
		})
	}))
	defer srv.Close()

	job, err := testClient(srv).Await(context.Background(), "job-9", fastPollConfig())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if job.State() != JobCompleted {
		t.Fatalf("expected completed, got %q", job.Status)
	}
	if polls != 3 {
		t.Fatalf("expected 3 polls, got %d", polls)
	}
}

func TestProviderCancel(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testClient(srv).Cancel("job-7"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/jobs/job-7" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}

	if err := testClient(srv).Cancel(""); err == nil {
		t.Fatal("empty job id must be rejected")
	}
}
