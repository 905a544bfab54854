package ffmpeg

import (
	"regexp"
	"strconv"
	"time"
)

// TimeMarker is a single parsed elapsed-media-time observation.
type TimeMarker struct {
	Elapsed time.Duration // elapsed media time
	Bytes   int64         // cumulative output bytes, 0 if the channel carries none
}

// Statistics is one structured snapshot from the running process:
// millisecond elapsed time plus the cumulative output size.
type Statistics struct {
	ElapsedMs int64 `json:"elapsed_ms"`
	Bytes     int64 `json:"bytes"`
}

// clockPattern matches HH:MM:SS.cc where cc is hundredths of a second.
// Groups: hours, minutes, seconds, centiseconds.
const clockPattern = `(\d+):(\d{2}):(\d{2})\.(\d{2})`

var logTimePattern = regexp.MustCompile(`time=` + clockPattern)

// ParseLogLine scans a free-text process log line for a time=HH:MM:SS.cc
// marker. Most lines carry no marker; absence is not an error.
func ParseLogLine(line string) (TimeMarker, bool) {
	m := logTimePattern.FindStringSubmatch(line)
	if m == nil {
		return TimeMarker{}, false
	}
	return TimeMarker{Elapsed: decodeClock(m[1], m[2], m[3], m[4])}, true
}

// ParseStatistics converts a structured statistics snapshot into a marker.
// Snapshots with a non-positive elapsed time are discarded.
func ParseStatistics(stats Statistics) (TimeMarker, bool) {
	if stats.ElapsedMs <= 0 {
		return TimeMarker{}, false
	}
	return TimeMarker{
		Elapsed: time.Duration(stats.ElapsedMs) * time.Millisecond,
		Bytes:   stats.Bytes,
	}, true
}

// decodeClock converts matched HH:MM:SS.cc groups to a duration.
// The fractional component is centiseconds: multiply by 10 for milliseconds.
func decodeClock(hours, minutes, seconds, centis string) time.Duration {
	h, _ := strconv.ParseInt(hours, 10, 64)
	m, _ := strconv.ParseInt(minutes, 10, 64)
	s, _ := strconv.ParseInt(seconds, 10, 64)
	cc, _ := strconv.ParseInt(centis, 10, 64)

	ms := ((h*60+m)*60+s)*1000 + cc*10
	return time.Duration(ms) * time.Millisecond
}
