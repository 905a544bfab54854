package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jdahl/transcoded/internal/ffmpeg"
	"github.com/jdahl/transcoded/internal/jobs"
	"github.com/jdahl/transcoded/internal/progress"
)

// fakeOrchestrator implements Orchestrator with canned responses.
type fakeOrchestrator struct {
	startJob  *jobs.Job
	startErr  error
	statusJob *jobs.Job
	statusErr error
	list      []*jobs.Job
	cancelErr error
	events    chan jobs.Event
	subErr    error

	cancelled []string
}

func (f *fakeOrchestrator) Start(req jobs.Request) (*jobs.Job, error) {
	return f.startJob, f.startErr
}

func (f *fakeOrchestrator) Status(id string) (*jobs.Job, error) {
	return f.statusJob, f.statusErr
}

func (f *fakeOrchestrator) List() []*jobs.Job { return f.list }

func (f *fakeOrchestrator) Cancel(id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeOrchestrator) Subscribe(id string) (chan jobs.Event, error) {
	return f.events, f.subErr
}

func (f *fakeOrchestrator) Unsubscribe(id string, ch chan jobs.Event) {}

func testJob(status jobs.Status) *jobs.Job {
	j := &jobs.Job{
		ID:        "job-1",
		Request:   jobs.Request{InputPath: "/media/in.mkv", Mode: ffmpeg.ModeBalanced},
		Profile:   ffmpeg.Resolve(ffmpeg.ModeBalanced, ffmpeg.Capabilities{}),
		Status:    status,
		Duration:  2 * time.Minute,
		CreatedAt: time.Now(),
	}
	if status == jobs.StatusCompleted {
		j.Progress = progress.Snapshot{Fraction: 1, Processed: 2 * time.Minute}
		j.Result = &jobs.Result{
			Outcome:    jobs.StatusCompleted,
			OutputPath: "/media/in.transcoded.mp4",
			OutputSize: 4_000_000,
			InputSize:  10_000_000,
			Elapsed:    time.Minute,
			Ratio:      0.6,
		}
	}
	return j
}

func serve(orch Orchestrator, method, target, body string) *httptest.ResponseRecorder {
	h := NewHandler(orch, ffmpeg.Capabilities{})
	mux := NewRouter(h)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob(t *testing.T) {
	orch := &fakeOrchestrator{startJob: testJob(jobs.StatusProbing)}

	rec := serve(orch, http.MethodPost, "/api/jobs", `{"input_path":"/media/in.mkv","mode":"balanced"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.ID != "job-1" {
		t.Errorf("expected job-1, got %q", resp.ID)
	}
	if resp.Status != string(jobs.StatusProbing) {
		t.Errorf("expected probing, got %q", resp.Status)
	}
}

func TestCreateJobValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{"malformed body", "{not json", nil, http.StatusBadRequest},
		{"missing input path", `{"mode":"fast"}`, nil, http.StatusBadRequest},
		{"rejected request", `{"input_path":"/nope.mkv"}`, jobs.ErrInvalidRequest, http.StatusBadRequest},
		{"duplicate active input", `{"input_path":"/media/in.mkv"}`, jobs.ErrInvalidState, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &fakeOrchestrator{startErr: tt.startErr}
			rec := serve(orch, http.MethodPost, "/api/jobs", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	orch := &fakeOrchestrator{statusJob: testJob(jobs.StatusCompleted)}

	rec := serve(orch, http.MethodGet, "/api/jobs/job-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status       string `json:"status"`
		SizeDisplay  string `json:"size_display"`
		SavedDisplay string `json:"saved_display"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Status != string(jobs.StatusCompleted) {
		t.Errorf("expected completed, got %q", resp.Status)
	}
	if resp.SizeDisplay == "" || resp.SavedDisplay == "" {
		t.Errorf("expected display sizes on a completed job, got %q / %q", resp.SizeDisplay, resp.SavedDisplay)
	}
	if !strings.Contains(resp.SavedDisplay, "60.0%") {
		t.Errorf("expected 60.0%% saved, got %q", resp.SavedDisplay)
	}
}

func TestGetJobNotFound(t *testing.T) {
	orch := &fakeOrchestrator{statusErr: jobs.ErrNotFound}

	rec := serve(orch, http.MethodGet, "/api/jobs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	orch := &fakeOrchestrator{list: []*jobs.Job{testJob(jobs.StatusRunning), testJob(jobs.StatusCompleted)}}

	rec := serve(orch, http.MethodGet, "/api/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Jobs []json.RawMessage `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(resp.Jobs))
	}
}

func TestCancelJob(t *testing.T) {
	orch := &fakeOrchestrator{}

	rec := serve(orch, http.MethodDelete, "/api/jobs/job-1", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(orch.cancelled) != 1 || orch.cancelled[0] != "job-1" {
		t.Errorf("expected cancel of job-1, got %v", orch.cancelled)
	}
}

func TestCancelJobNotFound(t *testing.T) {
	orch := &fakeOrchestrator{cancelErr: jobs.ErrNotFound}

	rec := serve(orch, http.MethodDelete, "/api/jobs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListProfiles(t *testing.T) {
	rec := serve(&fakeOrchestrator{}, http.MethodGet, "/api/profiles", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Profiles []struct {
			Mode        string `json:"mode"`
			Description string `json:"description"`
		} `json:"profiles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Profiles) == 0 {
		t.Error("expected at least one profile")
	}
}

func TestJobStream(t *testing.T) {
	events := make(chan jobs.Event, 2)
	running := testJob(jobs.StatusRunning)
	running.Progress = progress.Snapshot{Fraction: 0.5, Processed: time.Minute}
	events <- jobs.Event{Type: jobs.EventProgress, Job: running}
	events <- jobs.Event{Type: jobs.EventCompleted, Job: testJob(jobs.StatusCompleted)}
	close(events)

	orch := &fakeOrchestrator{events: events}
	rec := serve(orch, http.MethodGet, "/api/jobs/job-1/stream", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: progress") {
		t.Errorf("expected a progress event in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: completed") {
		t.Errorf("expected a completed event in stream:\n%s", body)
	}
	if !strings.Contains(body, `"fraction":0.5`) {
		t.Errorf("expected fraction 0.5 in stream:\n%s", body)
	}
}

func TestJobStreamNotFound(t *testing.T) {
	orch := &fakeOrchestrator{subErr: jobs.ErrNotFound}

	rec := serve(orch, http.MethodGet, "/api/jobs/missing/stream", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
