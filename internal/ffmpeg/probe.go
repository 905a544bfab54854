package ffmpeg

import (
	"context"
	"os/exec"
	"regexp"
	"time"

	"github.com/jdahl/transcoded/internal/logger"
)

var durationPattern = regexp.MustCompile(`Duration: ` + clockPattern)

// Prober extracts the total media duration of an input file by running a
// lightweight ffprobe invocation. Probing is best-effort: any failure only
// means the duration is unknown and duration-relative progress is disabled
// for that job.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a Prober with the given ffprobe path and invocation ceiling.
func NewProber(ffprobePath string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Prober{ffprobePath: ffprobePath, timeout: timeout}
}

// Probe runs the inspection invocation and returns the source duration.
// Returns (0, false) if the process fails, times out, or its output carries
// no Duration token - never an error.
func (p *Prober) Probe(ctx context.Context, inputPath string) (time.Duration, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, p.ffprobePath, "-hide_banner", "-i", inputPath)

	// ffprobe writes the Duration line to stderr; capture both streams.
	output, err := cmd.CombinedOutput()
	if err != nil && len(output) == 0 {
		logger.Debug("Probe produced no output", "input", inputPath, "error", err)
		return 0, false
	}

	duration, ok := extractDuration(string(output))
	if !ok {
		logger.Debug("Probe output carried no duration token", "input", inputPath)
		return 0, false
	}
	return duration, true
}

// extractDuration scans probe output for a Duration: HH:MM:SS.cc token.
func extractDuration(output string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	return decodeClock(m[1], m[2], m[3], m[4]), true
}
