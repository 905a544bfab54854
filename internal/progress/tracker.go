// Package progress accumulates telemetry time markers into a monotonic
// progress fraction and an estimated time remaining for one job.
package progress

import (
	"time"
)

// etaMinFraction is the progress floor below which no ETA is computed.
// Early samples divide tiny fractions into the elapsed wall time and
// produce wild estimates.
const etaMinFraction = 0.05

// Snapshot is an immutable view of a job's progress at one update.
type Snapshot struct {
	// Fraction is in [0, 1] and never decreases for a given job.
	Fraction float64 `json:"fraction"`
	// Processed is the elapsed media time covered so far.
	Processed time.Duration `json:"processed"`
	// ETA is the estimated time remaining. Valid only when ETAKnown is
	// true; it is an estimate and may fluctuate between updates.
	ETA      time.Duration `json:"eta"`
	ETAKnown bool          `json:"eta_known"`
}

// Tracker is the single writer of one job's progress state. Updates must
// be serialized by the caller; the tracker itself holds no lock.
type Tracker struct {
	duration  time.Duration // 0 = unknown, fraction stays at its last value
	processed time.Duration
	fraction  float64
	started   time.Time

	now func() time.Time // test hook
}

// NewTracker creates a tracker for a job whose source media duration is
// known. Pass 0 if probing failed; progress then stays at its last
// computed value and no ETA is produced.
func NewTracker(duration time.Duration) *Tracker {
	t := &Tracker{duration: duration, now: time.Now}
	t.started = t.now()
	return t
}

// newTrackerAt is the test entry point with a fixed clock.
func newTrackerAt(duration time.Duration, now func() time.Time) *Tracker {
	t := &Tracker{duration: duration, now: now}
	t.started = t.now()
	return t
}

// Update applies one time marker and returns the resulting snapshot.
// Markers may arrive out of order across the two telemetry channels; the
// monotonic clamp keeps processed time and fraction from regressing.
func (t *Tracker) Update(elapsed time.Duration) Snapshot {
	if elapsed > t.processed {
		t.processed = elapsed
	}

	if t.duration > 0 {
		fraction := float64(t.processed) / float64(t.duration)
		if fraction > 1 {
			fraction = 1
		}
		if fraction > t.fraction {
			t.fraction = fraction
		}
	}
	// Unknown duration: fraction holds its last known value.

	return t.snapshot()
}

// Current returns the latest snapshot without applying a marker.
func (t *Tracker) Current() Snapshot {
	return t.snapshot()
}

func (t *Tracker) snapshot() Snapshot {
	snap := Snapshot{
		Fraction:  t.fraction,
		Processed: t.processed,
	}

	if t.fraction > etaMinFraction {
		elapsed := t.now().Sub(t.started)
		total := time.Duration(float64(elapsed) / t.fraction)
		eta := total - elapsed
		if eta < 0 {
			eta = 0
		}
		snap.ETA = eta
		snap.ETAKnown = true
	}

	return snap
}
