package musicgen

import (
	"github.com/gijzelaerr/poing/internal/config"
	"github.com/gijzelaerr/poing/internal/prompt"
)

// Tempo is the optional musical framing of a request.
type Tempo struct {
	BPM         float64
	Bars        float64
	BeatsPerBar float64
}

// ParamsFromConfig splits configured generation defaults into sampler
// parameters and tempo framing.
func ParamsFromConfig(g config.GenerationConfig) (Params, Tempo) {
	return Params{
			GuidanceScale: float32(g.GuidanceScale),
			TopK:          g.TopK,
			Duration:      g.Duration,
			Seed:          g.Seed,
		}, Tempo{
			BPM:         g.BPM,
			Bars:        g.Bars,
			BeatsPerBar: g.BeatsPerBar,
		}
}

// NewRequest normalizes text and applies tempo: a positive BPM prefixes the
// prompt with a tempo hint, and a bar count at that BPM overrides Duration.
func NewRequest(text string, params Params, tempo Tempo) (Request, error) {
	text, err := prompt.Normalize(text)
	if err != nil {
		return Request{}, err
	}

	if tempo.BPM > 0 && tempo.Bars > 0 {
		params.Duration = prompt.DurationForBars(tempo.Bars, tempo.BeatsPerBar, tempo.BPM)
	}

	return Request{Prompt: prompt.WithTempo(text, tempo.BPM), Params: params}, nil
}
