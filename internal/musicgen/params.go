package musicgen

import (
	"fmt"
	"math"

	"github.com/gijzelaerr/poing/internal/prompt"
)

// Params are the per-request generation controls.
type Params struct {
	GuidanceScale float32
	TopK          int
	// Duration in seconds; 0 uses the model's max_length.
	Duration float64
	// Seed for the sampler; 0 picks a time-derived seed.
	Seed uint64
}

// DefaultParams returns the checkpoint's generation defaults.
func DefaultParams(cfg ModelConfig) Params {
	return Params{GuidanceScale: cfg.GuidanceScale, TopK: cfg.TopK}
}

func (p Params) Validate() error {
	switch {
	case !(p.GuidanceScale > 0) || math.IsInf(float64(p.GuidanceScale), 0):
		return fmt.Errorf("%w: guidance_scale must be > 0, got %v", ErrInvalidParams, p.GuidanceScale)
	case p.TopK <= 0:
		return fmt.Errorf("%w: top_k must be > 0, got %d", ErrInvalidParams, p.TopK)
	case p.Duration < 0 || math.IsNaN(p.Duration):
		return fmt.Errorf("%w: duration must be >= 0, got %v", ErrInvalidParams, p.Duration)
	}

	return nil
}

// MaxLength is the decoder grid length for p: enough frames for Duration plus
// the BOS column and the codebook delay, never more than the model allows.
func (p Params) MaxLength(cfg ModelConfig) int {
	if p.Duration <= 0 {
		return cfg.MaxLength
	}

	dur := min(p.Duration, prompt.MaxDurationSeconds)
	n := int(math.Ceil(dur*cfg.FrameRate)) + cfg.NumCodebooks

	return min(n, cfg.MaxLength)
}
