package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/sepiatone/internal/domain"
	"github.com/dunamismax/sepiatone/internal/queue"
	"github.com/dunamismax/sepiatone/internal/ratelimit"
	"github.com/dunamismax/sepiatone/internal/store"
	"github.com/hibiken/asynq"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.ProcessImagePayload
	taskIDs  map[string]bool
	err      error
}

func (f *fakeEnqueuer) EnqueueProcessImage(_ context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	// asynq retains finished and archived tasks under their ID.
	taskID := queue.TaskID(payload)
	if f.taskIDs[taskID] {
		return nil, queue.ErrAlreadyQueued
	}
	if f.taskIDs == nil {
		f.taskIDs = make(map[string]bool)
	}
	f.taskIDs[taskID] = true
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: taskID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct {
	exists bool
}

func (f fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "http://minio.local/sepiatone-jobs/" + objectKey + "?sig=1", nil
}

func (f fakeStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (f fakeLimiter) Allow(_ context.Context, _ string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: f.allow, Limit: 10, RetryAfter: 1500 * time.Millisecond}, f.err
}

func newTestServer(t *testing.T, enq *fakeEnqueuer, opts Options) (*Server, *store.MemoryJobStore) {
	t.Helper()

	jobs := store.NewMemoryJobStore()
	return NewServer(log.New(io.Discard, "", 0), enq, jobs, opts), jobs
}

func do(t *testing.T, h http.Handler, method, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestCreateStartAndGetLocalJob(t *testing.T) {
	source := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(source, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	enq := &fakeEnqueuer{}
	srv, jobs := newTestServer(t, enq, Options{
		DefaultPipeline: domain.DefaultPipeline([]float64{75, 50, 25}, 90),
	})
	h := srv.Handler()

	body, _ := json.Marshal(map[string]any{"source_type": "local_file", "object_key": source})
	rec, created := do(t, h, http.MethodPost, "/v1/jobs", string(body), http.Header{"X-User-Id": {"user-7"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	jobID, _ := created["job_id"].(string)
	if steps, _ := created["pipeline"].([]any); len(steps) != 4 {
		t.Fatalf("expected default pipeline of 4 steps, got %v", created["pipeline"])
	}

	job, ok, _ := jobs.Get(context.Background(), jobID)
	if !ok || job.UserID != "user-7" {
		t.Fatalf("expected stored job for user-7, got %+v ok=%v", job, ok)
	}

	rec, started := do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if started["status"] != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %v", started["status"])
	}
	if len(enq.payloads) != 1 || enq.payloads[0].UserID != "user-7" {
		t.Fatalf("expected one payload carrying the user id, got %+v", enq.payloads)
	}

	rec, got := do(t, h, http.MethodGet, "/v1/jobs/"+jobID, "", nil)
	if rec.Code != http.StatusOK || got["status"] != domain.JobStatusQueued {
		t.Fatalf("expected queued job, got %d %v", rec.Code, got)
	}

	rec, _ = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a queued job, got %d", rec.Code)
	}
}

func TestCreateJobValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, Options{})
	h := srv.Handler()

	cases := []struct {
		name string
		body string
	}{
		{name: "malformed", body: "{"},
		{name: "unknown field", body: `{"source_type":"local_file","object_key":"a.jpg","width":100}`},
		{name: "no pipeline and no default", body: `{"source_type":"local_file","object_key":"a.jpg"}`},
		{name: "bad percent", body: `{"source_type":"local_file","object_key":"a.jpg","pipeline":[{"id":"x","action":"resize","percent":-1}]}`},
		{name: "unknown action", body: `{"source_type":"local_file","object_key":"a.jpg","pipeline":[{"id":"x","action":"watermark"}]}`},
		{name: "trailing data", body: `{"source_type":"local_file","object_key":"a.jpg","pipeline":[{"id":"s","action":"sepia"}]} {}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := do(t, h, http.MethodPost, "/v1/jobs", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPresignedJobFlow(t *testing.T) {
	enq := &fakeEnqueuer{}
	srv, _ := newTestServer(t, enq, Options{Storage: fakeStorage{exists: false}})
	h := srv.Handler()

	rec, created := do(t, h, http.MethodPost, "/v1/jobs", `{"source_type":"s3_presigned","pipeline":[{"id":"sepia","action":"sepia"}]}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	upload, _ := created["upload"].(map[string]any)
	if upload["presigned_url_state"] != "ready" || !strings.Contains(upload["presigned_put_url"].(string), "uploads/") {
		t.Fatalf("unexpected upload block %v", upload)
	}

	jobID := created["job_id"].(string)
	rec, _ = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before upload, got %d", rec.Code)
	}
	if len(enq.payloads) != 0 {
		t.Fatal("expected nothing to be enqueued")
	}
}

func TestJobLookupErrors(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, Options{})
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodGet, "/v1/jobs/not-an-id", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodPost, "/v1/jobs/0123456789abcdef0123456789abcdef/start", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartJobAlreadyQueued(t *testing.T) {
	source := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(source, []byte("x"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	enq := &fakeEnqueuer{err: queue.ErrAlreadyQueued}
	srv, _ := newTestServer(t, enq, Options{})
	h := srv.Handler()

	body, _ := json.Marshal(map[string]any{
		"source_type": "local_file",
		"object_key":  source,
		"pipeline":    []map[string]any{{"id": "sepia", "action": "sepia"}},
	})
	_, created := do(t, h, http.MethodPost, "/v1/jobs", string(body), nil)
	rec, _ := do(t, h, http.MethodPost, "/v1/jobs/"+created["job_id"].(string)+"/start", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	enq.err = errors.New("redis down")
	_, created = do(t, h, http.MethodPost, "/v1/jobs", string(body), nil)
	rec, _ = do(t, h, http.MethodPost, "/v1/jobs/"+created["job_id"].(string)+"/start", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRestartFailedJob(t *testing.T) {
	source := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(source, []byte("x"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	enq := &fakeEnqueuer{}
	srv, jobs := newTestServer(t, enq, Options{})
	h := srv.Handler()

	body, _ := json.Marshal(map[string]any{
		"source_type": "local_file",
		"object_key":  source,
		"pipeline":    []map[string]any{{"id": "sepia", "action": "sepia"}},
	})
	_, created := do(t, h, http.MethodPost, "/v1/jobs", string(body), nil)
	jobID := created["job_id"].(string)
	startPath := "/v1/jobs/" + jobID + "/start"

	rec, first := do(t, h, http.MethodPost, startPath, "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if _, err := jobs.UpdateStatus(context.Background(), jobID, domain.JobStatusFailed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	rec, second := do(t, h, http.MethodPost, startPath, "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected failed job to restart with 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if first["task_id"] == second["task_id"] {
		t.Fatalf("expected a fresh task id on restart, got %v twice", first["task_id"])
	}
	if len(enq.payloads) != 2 {
		t.Fatalf("expected 2 enqueued tasks, got %d", len(enq.payloads))
	}

	rec, _ = do(t, h, http.MethodPost, startPath, "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected queued job to conflict, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, Options{RateLimiter: fakeLimiter{allow: false}})
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodPost, "/v1/jobs", `{}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("expected X-RateLimit-Limit 10, got %q", got)
	}

	rec, _ = do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected reads to bypass the limiter, got %d", rec.Code)
	}

	failOpen, _ := newTestServer(t, &fakeEnqueuer{}, Options{RateLimiter: fakeLimiter{err: errors.New("redis down")}})
	rec, _ = do(t, failOpen.Handler(), http.MethodPost, "/v1/jobs", `{`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected limiter errors to fail open, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, Options{})
	h := srv.Handler()

	do(t, h, http.MethodGet, "/healthz", "", nil)
	body := `{"source_type":"local_file","object_key":"/tmp/a.jpg","pipeline":[{"id":"50","action":"resize","percent":50},{"id":"sepia","action":"sepia"}]}`
	if rec, _ := do(t, h, http.MethodPost, "/v1/jobs", body, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`sepiatone_api_requests_total{method="GET",route="/healthz",status="200"} 1`)) {
		t.Fatalf("expected request counter in metrics output:\n%s", rec.Body.String())
	}
	for _, line := range []string{
		`sepiatone_api_jobs_created_total{source_type="local_file"} 1`,
		`sepiatone_api_pipeline_steps_total{action="resize"} 1`,
		`sepiatone_api_pipeline_steps_total{action="sepia"} 1`,
	} {
		if !bytes.Contains(rec.Body.Bytes(), []byte(line)) {
			t.Fatalf("expected %q in metrics output:\n%s", line, rec.Body.String())
		}
	}
}

func TestRouteLabelUsesMatchedPattern(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, Options{})

	cases := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/v1/jobs", "/v1/jobs"},
		{http.MethodGet, "/v1/jobs/abc", "/v1/jobs/{id}"},
		{http.MethodPost, "/v1/jobs/abc/start", "/v1/jobs/{id}/start"},
		{http.MethodGet, "/healthz", "/healthz"},
		{http.MethodGet, "/wp-admin", "other"},
		{http.MethodDelete, "/v1/jobs/abc", "other"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := srv.route(req); got != tc.want {
			t.Fatalf("route(%s %s): expected %q, got %q", tc.method, tc.path, tc.want, got)
		}
	}
}
