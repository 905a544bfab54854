package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdahl/transcoded/internal/ffmpeg"
	"github.com/jdahl/transcoded/internal/logger"
	"github.com/jdahl/transcoded/internal/progress"
)

const (
	// logTailLines is how many trailing process log lines are kept for
	// failure diagnostics.
	logTailLines = 40

	// subscriberBuffer sizes a subscription channel. Progress events are
	// dropped when a subscriber falls this far behind; the terminal event
	// is always delivered.
	subscriberBuffer = 32

	// updateBuffer sizes the per-job telemetry queue between the process
	// reader goroutines and the single update loop.
	updateBuffer = 64
)

// Prober extracts the source media duration before a transcode starts.
// Implemented by ffmpeg.Prober; faked in tests.
type Prober interface {
	Probe(ctx context.Context, inputPath string) (time.Duration, bool)
}

// Runner executes one transcoding process to completion, streaming
// free-text log lines and structured statistics snapshots.
// Implemented by ffmpeg.Runner; faked in tests.
type Runner interface {
	Run(ctx context.Context, profile ffmpeg.Profile, inputPath, outputPath string,
		onLog func(line string), onStats func(stats ffmpeg.Statistics)) error
}

// Store persists job snapshots. Implemented by store.SQLiteStore.
type Store interface {
	SaveJob(job *Job) error
}

// Options configures an Orchestrator.
type Options struct {
	Prober       Prober
	Runner       Runner
	Capabilities ffmpeg.Capabilities
	// OutputDir is where transcoded files are written; empty means
	// alongside the source file.
	OutputDir string
	// StallTimeout fails a running job that emits no telemetry for this
	// long. Zero disables the watchdog.
	StallTimeout time.Duration
	// Store receives job snapshots at lifecycle transitions (nil = none).
	Store Store
}

// Orchestrator owns the lifecycle of transcoding jobs: start, monitor,
// cancel, complete. Jobs run fully independently; the registry itself is
// the only shared state.
type Orchestrator struct {
	mu    sync.RWMutex
	jobs  map[string]*jobState
	order []string // job IDs in order of creation

	prober       Prober
	runner       Runner
	caps         ffmpeg.Capabilities
	outputDir    string
	stallTimeout time.Duration
	store        Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// jobState is the orchestrator-private state of one job. The embedded Job
// snapshot and everything else behind mu is mutated only while holding it;
// progress itself additionally flows through the single update loop.
type jobState struct {
	mu              sync.Mutex
	job             Job
	inputSize       int64
	cancelJob       context.CancelFunc
	cancelRequested bool
	subs            map[chan Event]struct{}
	logTail         []string
}

// NewOrchestrator creates an orchestrator. Call Stop to cancel all running
// jobs and wait for their teardown.
func NewOrchestrator(opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:         make(map[string]*jobState),
		prober:       opts.Prober,
		runner:       opts.Runner,
		caps:         opts.Capabilities,
		outputDir:    opts.OutputDir,
		stallTimeout: opts.StallTimeout,
		store:        opts.Store,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Restore seeds the registry with jobs loaded from the store at startup.
// Only terminal jobs should be restored; interrupted jobs are expected to
// have been failed by the store beforehand.
func (o *Orchestrator) Restore(jobs []*Job) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, j := range jobs {
		if _, exists := o.jobs[j.ID]; exists {
			continue
		}
		o.jobs[j.ID] = &jobState{job: *j.Copy()}
		o.order = append(o.order, j.ID)
	}
}

// Start validates the request, registers a job and launches its lifecycle
// asynchronously. The caller observes progress via Subscribe, never by
// blocking on Start.
func (o *Orchestrator) Start(req Request) (*Job, error) {
	info, err := os.Stat(req.InputPath)
	if err != nil {
		return nil, invalidRequestError(fmt.Sprintf("input not found: %s", req.InputPath))
	}
	if info.IsDir() {
		return nil, invalidRequestError(fmt.Sprintf("input is a directory: %s", req.InputPath))
	}
	f, err := os.Open(req.InputPath)
	if err != nil {
		return nil, invalidRequestError(fmt.Sprintf("input not readable: %s", req.InputPath))
	}
	f.Close()

	profile := ffmpeg.Resolve(req.Mode, o.caps)

	o.mu.Lock()
	// One active job per input file. A second start for the same input
	// while the first is still live is a caller bug, not a new job.
	for _, id := range o.order {
		js := o.jobs[id]
		js.mu.Lock()
		active := !js.job.IsTerminal() && js.job.Request.InputPath == req.InputPath
		js.mu.Unlock()
		if active {
			o.mu.Unlock()
			return nil, invalidStateError(fmt.Sprintf("job already active for input: %s", req.InputPath))
		}
	}

	jobCtx, jobCancel := context.WithCancel(o.ctx)
	js := &jobState{
		job: Job{
			ID:        uuid.NewString(),
			Request:   req,
			Profile:   profile,
			Status:    StatusProbing,
			CreatedAt: time.Now(),
		},
		inputSize: info.Size(),
		cancelJob: jobCancel,
		subs:      make(map[chan Event]struct{}),
	}
	o.jobs[js.job.ID] = js
	o.order = append(o.order, js.job.ID)
	o.mu.Unlock()

	snapshot := js.job.Copy()
	o.persist(snapshot)
	logger.Info("Job accepted", "job_id", js.job.ID, "input", req.InputPath, "mode", profile.Mode, "profile", profile.Description)

	o.wg.Add(1)
	go o.runJob(jobCtx, js)

	return snapshot, nil
}

// Status returns a lifecycle snapshot of the job.
func (o *Orchestrator) Status(id string) (*Job, error) {
	js := o.get(id)
	if js == nil {
		return nil, notFoundError(id)
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.job.Copy(), nil
}

// List returns snapshots of all known jobs in creation order.
func (o *Orchestrator) List() []*Job {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Job, 0, len(o.order))
	for _, id := range o.order {
		js := o.jobs[id]
		js.mu.Lock()
		out = append(out, js.job.Copy())
		js.mu.Unlock()
	}
	return out
}

// Cancel requests termination of a job. It acknowledges promptly; the
// Cancelled transition and process teardown happen asynchronously.
// Cancelling an already-terminal job is a no-op, not an error.
func (o *Orchestrator) Cancel(id string) error {
	js := o.get(id)
	if js == nil {
		return notFoundError(id)
	}

	js.mu.Lock()
	if js.job.IsTerminal() {
		js.mu.Unlock()
		return nil
	}
	js.cancelRequested = true
	cancel := js.cancelJob
	js.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	logger.Info("Cancel requested", "job_id", id)
	return nil
}

// Subscribe returns a finite event stream for the job: the most recent
// snapshot first, then progress events as they arrive, ending exactly once
// after the terminal event. Subscribing to a terminal job yields just the
// terminal event.
func (o *Orchestrator) Subscribe(id string) (chan Event, error) {
	js := o.get(id)
	if js == nil {
		return nil, notFoundError(id)
	}

	js.mu.Lock()
	defer js.mu.Unlock()

	if js.job.IsTerminal() {
		ch := make(chan Event, 1)
		ch <- Event{Type: terminalEventType(js.job.Status), Job: js.job.Copy()}
		close(ch)
		return ch, nil
	}

	ch := make(chan Event, subscriberBuffer)
	ch <- Event{Type: EventProgress, Job: js.job.Copy()}
	if js.subs == nil {
		js.subs = make(map[chan Event]struct{})
	}
	js.subs[ch] = struct{}{}
	return ch, nil
}

// Unsubscribe detaches an early-leaving subscriber. Streams that ran to
// their terminal event are closed by the orchestrator and need no call.
func (o *Orchestrator) Unsubscribe(id string, ch chan Event) {
	js := o.get(id)
	if js == nil {
		return
	}

	js.mu.Lock()
	_, registered := js.subs[ch]
	if registered {
		delete(js.subs, ch)
	}
	js.mu.Unlock()

	// Only close channels we still owned; terminal teardown closes the rest.
	if registered {
		close(ch)
	}
}

// Stop cancels all running jobs and waits for their teardown.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) get(id string) *jobState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.jobs[id]
}

func (o *Orchestrator) persist(job *Job) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveJob(job); err != nil {
		logger.Warn("Failed to persist job", "job_id", job.ID, "error", err)
	}
}

// outputPathFor derives the output artifact path for a job.
func (o *Orchestrator) outputPathFor(req Request, profile ffmpeg.Profile) string {
	if req.OutputPath != "" {
		return req.OutputPath
	}
	dir := o.outputDir
	if dir == "" {
		dir = filepath.Dir(req.InputPath)
	}
	base := filepath.Base(req.InputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+".transcoded."+profile.Extension)
}

// runJob drives one job through Probing -> Running -> terminal.
func (o *Orchestrator) runJob(ctx context.Context, js *jobState) {
	defer o.wg.Done()

	req := js.job.Request // immutable after Start
	profile := js.job.Profile

	duration, known := o.prober.Probe(ctx, req.InputPath)
	if known {
		js.mu.Lock()
		js.job.Duration = duration
		js.mu.Unlock()
		logger.Debug("Probe complete", "job_id", js.job.ID, "duration", duration)
	} else {
		// Non-fatal: the job proceeds with indeterminate progress.
		logger.Warn("Probe failed, progress will be indeterminate", "job_id", js.job.ID, "input", req.InputPath)
	}

	if ctx.Err() != nil {
		o.finalize(js, ctx.Err(), "", false)
		return
	}

	outputPath := o.outputPathFor(req, profile)
	tracker := progress.NewTracker(duration)

	js.mu.Lock()
	js.job.Status = StatusRunning
	js.job.StartedAt = time.Now()
	js.job.Progress = tracker.Current()
	snapshot := js.job.Copy()
	js.mu.Unlock()
	o.persist(snapshot)
	o.broadcastProgress(js, snapshot)
	logger.Info("Job running", "job_id", js.job.ID, "output", outputPath)

	// Telemetry from both channels funnels into one queue consumed by a
	// single loop, so updates for this job are processed one at a time.
	updates := make(chan time.Duration, updateBuffer)
	onLog := func(line string) {
		js.appendLog(line)
		if marker, ok := ffmpeg.ParseLogLine(line); ok {
			select {
			case updates <- marker.Elapsed:
			default: // coalesce under backpressure
			}
		}
	}
	onStats := func(stats ffmpeg.Statistics) {
		if marker, ok := ffmpeg.ParseStatistics(stats); ok {
			select {
			case updates <- marker.Elapsed:
			default:
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.runner.Run(ctx, profile, req.InputPath, outputPath, onLog, onStats)
	}()

	var stall *time.Timer
	var stallC <-chan time.Time
	if o.stallTimeout > 0 {
		stall = time.NewTimer(o.stallTimeout)
		stallC = stall.C
		defer stall.Stop()
	}

	var runErr error
	stalled := false

loop:
	for {
		select {
		case err := <-errCh:
			// Apply telemetry that raced with process exit before settling.
			for {
				select {
				case elapsed := <-updates:
					o.applyUpdate(js, tracker, elapsed)
				default:
					runErr = err
					break loop
				}
			}
		case elapsed := <-updates:
			if stall != nil {
				if !stall.Stop() {
					select {
					case <-stall.C:
					default:
					}
				}
				stall.Reset(o.stallTimeout)
			}
			o.applyUpdate(js, tracker, elapsed)
		case <-stallC:
			stalled = true
			logger.Warn("Job stalled, killing process", "job_id", js.job.ID, "window", o.stallTimeout)
			js.cancelJob()
			runErr = <-errCh
			break loop
		}
	}

	o.finalize(js, runErr, outputPath, stalled)
}

// applyUpdate is the job's single update point: tracker state advances
// here and nowhere else.
func (o *Orchestrator) applyUpdate(js *jobState, tracker *progress.Tracker, elapsed time.Duration) {
	snap := tracker.Update(elapsed)

	js.mu.Lock()
	js.job.Progress = snap
	snapshot := js.job.Copy()
	js.mu.Unlock()

	o.broadcastProgress(js, snapshot)
}

// broadcastProgress delivers a progress event to subscribers, dropping it
// for any subscriber whose buffer is full. Events are never reordered:
// they all originate from the job's single update point.
func (o *Orchestrator) broadcastProgress(js *jobState, snapshot *Job) {
	js.mu.Lock()
	defer js.mu.Unlock()

	for ch := range js.subs {
		select {
		case ch <- Event{Type: EventProgress, Job: snapshot}:
		default:
		}
	}
}

// finalize records the terminal result exactly once and tears the job down.
func (o *Orchestrator) finalize(js *jobState, runErr error, outputPath string, stalled bool) {
	js.mu.Lock()
	if js.job.IsTerminal() {
		js.mu.Unlock()
		return
	}
	cancelRequested := js.cancelRequested
	started := js.job.StartedAt
	if started.IsZero() {
		started = js.job.CreatedAt
	}
	inputSize := js.inputSize
	js.mu.Unlock()

	result := Result{
		InputSize: inputSize,
		Elapsed:   time.Since(started),
	}

	switch {
	case stalled:
		result.Outcome = StatusFailed
		result.Diagnostic = fmt.Sprintf("no telemetry within %s, process killed\n%s", o.stallTimeout, js.tailExcerpt())
		removePartial(outputPath)

	case cancelRequested:
		result.Outcome = StatusCancelled
		removePartial(outputPath)

	case runErr != nil:
		result.Outcome = StatusFailed
		if errors.Is(runErr, context.Canceled) {
			result.Diagnostic = "interrupted by shutdown"
		} else {
			result.Diagnostic = fmt.Sprintf("%v\n%s", runErr, js.tailExcerpt())
		}
		removePartial(outputPath)

	default:
		// The process has fully exited; the output is safe to inspect now.
		info, err := os.Stat(outputPath)
		if err != nil || info.Size() == 0 {
			result.Outcome = StatusFailed
			result.Diagnostic = fmt.Sprintf("process exited cleanly but output is missing or empty: %s\n%s", outputPath, js.tailExcerpt())
			removePartial(outputPath)
		} else {
			result.Outcome = StatusCompleted
			result.OutputPath = outputPath
			result.OutputSize = info.Size()
			if inputSize > 0 {
				result.Ratio = float64(inputSize-info.Size()) / float64(inputSize)
			}
		}
	}

	js.mu.Lock()
	js.job.Status = result.Outcome
	js.job.Result = &result
	js.job.CompletedAt = time.Now()
	if result.Outcome == StatusCompleted {
		js.job.Progress.Fraction = 1
	}
	subs := js.subs
	js.subs = nil
	snapshot := js.job.Copy()
	js.mu.Unlock()

	// The terminal event must reach every subscriber, so it is sent
	// without the drop-on-backpressure shortcut progress events take.
	ev := Event{Type: terminalEventType(result.Outcome), Job: snapshot}
	for ch := range subs {
		go func(ch chan Event) {
			ch <- ev
			close(ch)
		}(ch)
	}

	o.persist(snapshot)

	switch result.Outcome {
	case StatusCompleted:
		logger.Info("Job complete", "job_id", js.job.ID,
			"output", result.OutputPath,
			"input_size", result.InputSize,
			"output_size", result.OutputSize,
			"ratio", fmt.Sprintf("%.1f%%", result.Ratio*100),
			"elapsed", result.Elapsed.Round(time.Second))
	case StatusCancelled:
		logger.Info("Job cancelled", "job_id", js.job.ID)
	default:
		logger.Error("Job failed", "job_id", js.job.ID, "diagnostic", firstLine(result.Diagnostic))
	}
}

// appendLog keeps the trailing process log for diagnostics.
func (js *jobState) appendLog(line string) {
	js.mu.Lock()
	defer js.mu.Unlock()

	js.logTail = append(js.logTail, line)
	if len(js.logTail) > logTailLines {
		js.logTail = js.logTail[len(js.logTail)-logTailLines:]
	}
}

// tailExcerpt returns the retained trailing log lines as one block.
func (js *jobState) tailExcerpt() string {
	js.mu.Lock()
	defer js.mu.Unlock()
	return strings.Join(js.logTail, "\n")
}

func removePartial(path string) {
	if path == "" {
		return
	}
	os.Remove(path)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
