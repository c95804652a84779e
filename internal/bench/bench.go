// Package bench measures generation latency and realtime factor.
package bench

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gijzelaerr/poing/internal/musicgen"
)

// RunResult holds the timing and audio length of a single generation run.
type RunResult struct {
	Index   int
	Cold    bool // first run: includes graph warm-up
	Seed    uint64
	Elapsed time.Duration
	Audio   time.Duration
	RTF     float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	Median  time.Duration
	MeanRTF float64
}

// Options configures Run.
type Options struct {
	Request    musicgen.Request
	Runs       int
	SampleRate int
}

// Run generates opts.Request opts.Runs times in a row. A non-zero request
// seed is advanced by one per run so every run samples differently.
func Run(ctx context.Context, gen musicgen.Generator, opts Options) ([]RunResult, error) {
	if opts.Runs < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", opts.Runs)
	}
	if opts.SampleRate < 1 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", opts.SampleRate)
	}

	results := make([]RunResult, 0, opts.Runs)
	for i := range opts.Runs {
		params := opts.Request.Params
		if params.Seed != 0 {
			params.Seed += uint64(i)
		}

		start := time.Now()
		samples, err := gen.Generate(ctx, opts.Request.Prompt, params, func(float32) {})
		if err != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}
		elapsed := time.Since(start)

		audioDur := AudioDuration(len(samples), opts.SampleRate)
		results = append(results, RunResult{
			Index:   i,
			Cold:    i == 0,
			Seed:    params.Seed,
			Elapsed: elapsed,
			Audio:   audioDur,
			RTF:     CalcRTF(elapsed, audioDur),
		})
	}

	return results, nil
}

// AudioDuration is the playback length of n mono samples.
func AudioDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// ComputeStats aggregates elapsed times and RTFs. It returns the zero
// value for no runs.
func ComputeStats(runs []RunResult) Stats {
	if len(runs) == 0 {
		return Stats{}
	}

	elapsed := make([]float64, len(runs))
	rtf := make([]float64, len(runs))
	for i, r := range runs {
		elapsed[i] = float64(r.Elapsed)
		rtf[i] = r.RTF
	}

	sorted := append([]float64(nil), elapsed...)
	slices.Sort(sorted)

	return Stats{
		Min:     time.Duration(floats.Min(elapsed)),
		Max:     time.Duration(floats.Max(elapsed)),
		Mean:    time.Duration(stat.Mean(elapsed, nil)),
		Median:  time.Duration(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		MeanRTF: stat.Mean(rtf, nil),
	}
}

// CalcRTF returns generation time / audio duration. It returns 0 when
// audioDur is zero.
func CalcRTF(elapsed, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(elapsed) / float64(audioDur)
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %12s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 48))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10d  %12d  %8.3f\n",
			r.Index+1, cold, r.Elapsed.Milliseconds(), r.Audio.Milliseconds(), r.RTF)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 48))
	for _, row := range []struct {
		label string
		d     time.Duration
	}{
		{"min", stats.Min},
		{"median", stats.Median},
		{"mean", stats.Mean},
		{"max", stats.Max},
	} {
		fmt.Fprintf(sb, "%-5s  %-5s  %10d  %12s  %8s  (%s)\n", "", "", row.d.Milliseconds(), "", "", row.label)
	}
	fmt.Fprintf(sb, "mean RTF %.3f\n", stats.MeanRTF)

	fmt.Fprint(w, sb.String())
}

type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index     int     `json:"index"`
	Cold      bool    `json:"cold"`
	Seed      uint64  `json:"seed,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
	AudioMS   int64   `json:"audio_ms"`
	RTF       float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS    int64   `json:"min_ms"`
	MedianMS int64   `json:"median_ms"`
	MeanMS   int64   `json:"mean_ms"`
	MaxMS    int64   `json:"max_ms"`
	MeanRTF  float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:    stats.Min.Milliseconds(),
			MedianMS: stats.Median.Milliseconds(),
			MeanMS:   stats.Mean.Milliseconds(),
			MaxMS:    stats.Max.Milliseconds(),
			MeanRTF:  stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:     r.Index,
			Cold:      r.Cold,
			Seed:      r.Seed,
			ElapsedMS: r.Elapsed.Milliseconds(),
			AudioMS:   r.Audio.Milliseconds(),
			RTF:       r.RTF,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
