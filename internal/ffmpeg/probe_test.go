package ffmpeg

import (
	"testing"
	"time"
)

func TestExtractDuration(t *testing.T) {
	output := `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'input.mp4':
  Metadata:
    major_brand     : isom
  Duration: 00:02:00.00, start: 0.000000, bitrate: 1205 kb/s
    Stream #0:0(und): Video: h264 (High), yuv420p, 1920x1080`

	duration, ok := extractDuration(output)
	if !ok {
		t.Fatal("expected duration token to be found")
	}
	if duration != 120*time.Second {
		t.Errorf("duration = %v, want 2m0s", duration)
	}
}

func TestExtractDurationCentiseconds(t *testing.T) {
	duration, ok := extractDuration("  Duration: 00:01:23.45, start: 0.0")
	if !ok {
		t.Fatal("expected duration token to be found")
	}
	if duration != 83450*time.Millisecond {
		t.Errorf("duration = %v, want 1m23.45s", duration)
	}
}

func TestExtractDurationAbsent(t *testing.T) {
	cases := []string{
		"",
		"input.mp4: Invalid data found when processing input",
		"Duration: N/A, bitrate: N/A",
	}
	for _, output := range cases {
		if _, ok := extractDuration(output); ok {
			t.Errorf("extractDuration(%q) found a duration, want absent", output)
		}
	}
}
