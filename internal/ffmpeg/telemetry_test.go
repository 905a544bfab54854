package ffmpeg

import (
	"testing"
	"time"
)

func TestParseLogLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want time.Duration
		ok   bool
	}{
		{
			name: "typical progress line",
			line: "frame=10 fps=25 q=28.0 size=256kB time=00:01:23.45 bitrate=1200.0kbits/s speed=1.2x",
			want: 83450 * time.Millisecond,
			ok:   true,
		},
		{
			name: "hours component",
			line: "time=01:00:00.00",
			want: time.Hour,
			ok:   true,
		},
		{
			name: "no marker",
			line: "Stream mapping: Stream #0:0 -> #0:0 (h264 -> libx264)",
			ok:   false,
		},
		{
			name: "empty line",
			line: "",
			ok:   false,
		},
		{
			name: "malformed fraction",
			line: "time=00:01:23",
			ok:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			marker, ok := ParseLogLine(tc.line)
			if ok != tc.ok {
				t.Fatalf("ParseLogLine(%q) ok = %v, want %v", tc.line, ok, tc.ok)
			}
			if ok && marker.Elapsed != tc.want {
				t.Errorf("elapsed = %v, want %v", marker.Elapsed, tc.want)
			}
		})
	}
}

func TestParseStatistics(t *testing.T) {
	marker, ok := ParseStatistics(Statistics{ElapsedMs: 30000, Bytes: 1024})
	if !ok {
		t.Fatal("expected marker for positive elapsed time")
	}
	if marker.Elapsed != 30*time.Second {
		t.Errorf("elapsed = %v, want 30s", marker.Elapsed)
	}
	if marker.Bytes != 1024 {
		t.Errorf("bytes = %d, want 1024", marker.Bytes)
	}

	if _, ok := ParseStatistics(Statistics{ElapsedMs: 0, Bytes: 512}); ok {
		t.Error("expected no marker for zero elapsed time")
	}
	if _, ok := ParseStatistics(Statistics{ElapsedMs: -100}); ok {
		t.Error("expected no marker for negative elapsed time")
	}
}
