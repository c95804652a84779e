package prompt

import (
	"fmt"
	"math"
)

// MaxDurationSeconds is the longest clip the editor-facing helpers will ask for.
const MaxDurationSeconds = 30.0

// DefaultBeatsPerBar is used when a time signature is unknown.
const DefaultBeatsPerBar = 4.0

// WithTempo prefixes p with a tempo hint such as "120 bpm. ". A non-positive
// bpm returns p unchanged.
func WithTempo(p string, bpm float64) string {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return p
	}

	return fmt.Sprintf("%.0f bpm. %s", bpm, p)
}

// DurationForBars converts a bar count at the given tempo into seconds,
// capped at MaxDurationSeconds. Invalid inputs yield 0.
func DurationForBars(bars, beatsPerBar, bpm float64) float64 {
	if beatsPerBar <= 0 {
		beatsPerBar = DefaultBeatsPerBar
	}

	if bars <= 0 || bpm <= 0 {
		return 0
	}

	return math.Min(bars*beatsPerBar*60/bpm, MaxDurationSeconds)
}

// BarsForDuration returns the whole number of bars closest to seconds at the
// given tempo, never less than one.
func BarsForDuration(seconds, beatsPerBar, bpm float64) int {
	if beatsPerBar <= 0 {
		beatsPerBar = DefaultBeatsPerBar
	}

	if seconds <= 0 || bpm <= 0 {
		return 1
	}

	bars := math.Round(seconds * bpm / (60 * beatsPerBar))

	return int(math.Max(bars, 1))
}
