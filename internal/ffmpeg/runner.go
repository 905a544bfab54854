package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jdahl/transcoded/internal/logger"
)

// killGracePeriod is how long a cancelled process gets to exit after
// SIGTERM before it is killed outright.
const killGracePeriod = 5 * time.Second

// Runner spawns transcoding processes and streams their telemetry.
//
// Two channels are delivered per run: free-text log lines from stderr
// (onLog) and structured statistics snapshots parsed from the -progress
// stream on stdout (onStats). Callbacks are invoked from the runner's
// reader goroutines; serializing their processing is the caller's job.
type Runner struct {
	ffmpegPath string
}

// NewRunner creates a Runner with the given ffmpeg path.
func NewRunner(ffmpegPath string) *Runner {
	return &Runner{ffmpegPath: ffmpegPath}
}

// Run executes one transcode and blocks until the process exits.
// The output file is only trustworthy after Run returns nil.
func (r *Runner) Run(
	ctx context.Context,
	profile Profile,
	inputPath string,
	outputPath string,
	onLog func(line string),
	onStats func(stats Statistics),
) error {
	args := []string{
		"-i", inputPath,
		"-y", // unconditional overwrite
		"-progress", "pipe:1",
		"-nostats",
	}
	args = append(args, profile.Args...)
	args = append(args, outputPath)

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	// Ask nicely first on cancel, then kill after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var readers sync.WaitGroup
	readers.Add(2)

	// Statistics channel: -progress emits key=value blocks terminated by a
	// "progress" line. One snapshot is delivered per block.
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		var current Statistics

		for scanner.Scan() {
			line := scanner.Text()
			idx := strings.Index(line, "=")
			if idx <= 0 {
				continue
			}
			key, value := line[:idx], line[idx+1:]

			switch key {
			case "out_time_us":
				if value != "N/A" {
					us, _ := strconv.ParseInt(value, 10, 64)
					current.ElapsedMs = us / 1000
				}
			case "total_size":
				if value != "N/A" {
					current.Bytes, _ = strconv.ParseInt(value, 10, 64)
				}
			case "progress":
				// "continue" or "end" closes a block
				if onStats != nil {
					onStats(current)
				}
			}
		}
	}()

	// Log channel: raw stderr lines, delivered as-is.
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if onLog != nil {
				onLog(scanner.Text())
			}
		}
	}()

	readers.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg exited: %w", err)
	}
	return nil
}
