// Package api exposes the orchestrator over HTTP: job submission,
// status, cancellation and per-job event streams.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jdahl/transcoded/internal/ffmpeg"
	"github.com/jdahl/transcoded/internal/jobs"
)

// Orchestrator is the job lifecycle surface the handlers need.
// Implemented by jobs.Orchestrator.
type Orchestrator interface {
	Start(req jobs.Request) (*jobs.Job, error)
	Status(id string) (*jobs.Job, error)
	List() []*jobs.Job
	Cancel(id string) error
	Subscribe(id string) (chan jobs.Event, error)
	Unsubscribe(id string, ch chan jobs.Event)
}

// Handler provides HTTP API handlers
type Handler struct {
	orch Orchestrator
	caps ffmpeg.Capabilities
}

// NewHandler creates a new API handler
func NewHandler(orch Orchestrator, caps ffmpeg.Capabilities) *Handler {
	return &Handler{orch: orch, caps: caps}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusForError maps orchestrator errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// jobView augments a job snapshot with display strings for the UI.
type jobView struct {
	*jobs.Job
	ProgressDisplay string `json:"progress_display"`
	ETADisplay      string `json:"eta_display,omitempty"`
	SizeDisplay     string `json:"size_display,omitempty"`
	SavedDisplay    string `json:"saved_display,omitempty"`
}

func viewOf(j *jobs.Job) jobView {
	v := jobView{
		Job:             j,
		ProgressDisplay: fmt.Sprintf("%.0f%%", j.Progress.Fraction*100),
	}
	if j.Progress.ETAKnown {
		// Round so the displayed value does not flicker at every update.
		unit := time.Second
		if j.Progress.ETA > 10*time.Minute {
			unit = time.Minute
		}
		v.ETADisplay = j.Progress.ETA.Round(unit).String()
	}
	if r := j.Result; r != nil && r.Outcome == jobs.StatusCompleted {
		v.SizeDisplay = fmt.Sprintf("%s -> %s",
			humanize.Bytes(uint64(r.InputSize)), humanize.Bytes(uint64(r.OutputSize)))
		v.SavedDisplay = fmt.Sprintf("%s (%.1f%%)",
			humanize.Bytes(uint64(r.InputSize-r.OutputSize)), r.Ratio*100)
	}
	return v
}

// CreateJob handles POST /api/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InputPath == "" {
		writeError(w, http.StatusBadRequest, "input_path required")
		return
	}

	job, err := h.orch.Start(req)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(job))
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	all := h.orch.List()
	views := make([]jobView, 0, len(all))
	for _, j := range all {
		views = append(views, viewOf(j))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views})
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.orch.Status(id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

// CancelJob handles DELETE /api/jobs/{id}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orch.Cancel(id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	// Acknowledged; the terminal transition arrives on the event stream.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// ListProfiles handles GET /api/profiles
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": ffmpeg.ListProfiles(h.caps),
	})
}
