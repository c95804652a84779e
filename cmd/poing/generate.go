package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gijzelaerr/poing/internal/audio"
	"github.com/gijzelaerr/poing/internal/config"
	"github.com/gijzelaerr/poing/internal/musicgen"
	"github.com/gijzelaerr/poing/internal/prompt"
)

const (
	previewColumns = 72
	previewRows    = 9
	progressWidth  = 40
)

type generateOptions struct {
	Text      string
	Out       string
	Preview   bool
	Float     bool
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64

	// Tempo only frames the preview summary; the request already carries it.
	Tempo musicgen.Tempo
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate music from a text prompt and write a WAV file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if len(args) == 1 && opts.Text == "" {
				opts.Text = args[0]
			}
			text, err := readPromptText(opts.Text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			params, tempo := musicgen.ParamsFromConfig(cfg.Generation)
			opts.Tempo = tempo
			req, err := musicgen.NewRequest(text, params, tempo)
			if err != nil {
				return err
			}
			if err := req.Params.Validate(); err != nil {
				return err
			}

			bar := newProgressBar(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
			return runGenerate(cmd.Context(), cfg, req, opts, bar, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Text, "text", "", "Prompt text (if empty, the argument or stdin is used)")
	cmd.Flags().StringVar(&opts.Out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "Print a text waveform of the result")
	cmd.Flags().BoolVar(&opts.Float, "float", false, "Write 32-bit float WAV instead of 16-bit PCM")
	cmd.Flags().BoolVar(&opts.Normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&opts.DCBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&opts.FadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&opts.FadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")

	return cmd
}

func runGenerate(ctx context.Context, cfg config.Config, req musicgen.Request, opts generateOptions, bar *progressBar, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	worker := musicgen.NewWorker(p)
	samples, err := collectEvents(worker.Submit(ctx, req), bar.Update)
	bar.Finish()
	if err != nil {
		return err
	}

	samples = audio.ApplyHooks(samples, dspHooks(opts, p.SampleRate())...)

	encode := audio.EncodeWAV
	if opts.Float {
		encode = audio.EncodeWAVFloat32
	}
	wavData, err := encode(samples, p.SampleRate())
	if err != nil {
		return err
	}

	if err := writeOutput(opts.Out, wavData, stdout); err != nil {
		return err
	}

	if opts.Preview && opts.Out != "-" {
		_, _ = fmt.Fprintln(stdout, previewSummary(len(samples), p.SampleRate(), opts.Tempo))
		for _, line := range audio.RenderWaveform(audio.WaveformColumns(samples, previewColumns), previewRows) {
			_, _ = fmt.Fprintln(stdout, line)
		}
	}

	return nil
}

// previewSummary describes the clip length, in bars when a tempo is set.
func previewSummary(frames, sampleRate int, tempo musicgen.Tempo) string {
	seconds := float64(frames) / float64(max(sampleRate, 1))
	if tempo.BPM <= 0 {
		return fmt.Sprintf("%.2fs", seconds)
	}

	unit := "bars"
	bars := prompt.BarsForDuration(seconds, tempo.BeatsPerBar, tempo.BPM)
	if bars == 1 {
		unit = "bar"
	}

	return fmt.Sprintf("%.2fs, %d %s at %.0f bpm", seconds, bars, unit, tempo.BPM)
}

// collectEvents drains a worker's event channel, reporting progress along the
// way, and returns the terminal event's result.
func collectEvents(events <-chan musicgen.Event, progress func(float32)) ([]float32, error) {
	var (
		samples []float32
		err     error
	)
	for ev := range events {
		if !ev.Done {
			progress(ev.Progress)
			continue
		}
		if ev.Err == nil {
			progress(ev.Progress)
		}
		samples, err = ev.Samples, ev.Err
	}

	return samples, err
}

func dspHooks(opts generateOptions, sampleRate int) []audio.Hook {
	var hooks []audio.Hook
	if opts.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, sampleRate) })
	}
	if opts.Normalize {
		hooks = append(hooks, audio.PeakNormalize)
	}
	if opts.FadeInMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeIn(s, sampleRate, opts.FadeInMS) })
	}
	if opts.FadeOutMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeOut(s, sampleRate, opts.FadeOutMS) })
	}

	return hooks
}

func writeOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readPromptText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide a prompt or pipe one on stdin")
	}
	return input, nil
}

// progressBar draws a single-line bar on a terminal. When disabled every
// method is a no-op so piped stderr stays clean for the JSON logs.
type progressBar struct {
	w       io.Writer
	enabled bool
	last    int
}

func newProgressBar(w io.Writer, enabled bool) *progressBar {
	return &progressBar{w: w, enabled: enabled, last: -1}
}

func (b *progressBar) Update(p float32) {
	if !b.enabled {
		return
	}

	p = max(0, min(1, p))
	pct := int(p * 100)
	if pct == b.last {
		return
	}
	b.last = pct

	filled := int(p * progressWidth)
	_, _ = fmt.Fprintf(b.w, "\r[%s%s] %3d%%",
		strings.Repeat("#", filled), strings.Repeat(" ", progressWidth-filled), pct)
}

func (b *progressBar) Finish() {
	if b.enabled && b.last >= 0 {
		_, _ = fmt.Fprintln(b.w)
	}
}
