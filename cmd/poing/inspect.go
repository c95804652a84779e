package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gijzelaerr/poing/internal/audio"
	"github.com/gijzelaerr/poing/internal/config"
	"github.com/gijzelaerr/poing/internal/musicgen"
	"github.com/gijzelaerr/poing/internal/onnx"
)

func newInspectCmd() *cobra.Command {
	var wavPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print model geometry and graph I/O names, or describe a WAV file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if wavPath != "" {
				return inspectWAV(cmd.OutOrStdout(), wavPath)
			}

			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return inspectModel(cmd.OutOrStdout(), cfg.Paths.ModelDir, sessionIO(cfg.Runtime))
		},
	}

	cmd.Flags().StringVar(&wavPath, "wav", "", "Describe this WAV file instead of the model")

	return cmd
}

// graphIO opens a graph and reports its declared input and output names.
type graphIO func(s onnx.Session) (inputs, outputs []string, err error)

// sessionIO reads I/O names from real ORT sessions.
func sessionIO(rt config.RuntimeConfig) graphIO {
	return func(s onnx.Session) ([]string, []string, error) {
		info, err := onnx.Bootstrap(rt)
		if err != nil {
			return nil, nil, err
		}

		r, err := onnx.NewRunner(s, onnx.RunnerConfig{
			LibraryPath:    info.LibraryPath,
			APIVersion:     rt.APIVersion,
			IntraOpThreads: rt.IntraOpThreads,
		})
		if err != nil {
			return nil, nil, err
		}
		defer r.Close()

		return r.InputNames(), r.OutputNames(), nil
	}
}

func inspectModel(w io.Writer, dir string, open graphIO) error {
	mc, err := musicgen.LoadModelConfig(dir)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "model: %s\n", dir)
	_, _ = fmt.Fprintf(w, "  codebooks:      %d\n", mc.NumCodebooks)
	_, _ = fmt.Fprintf(w, "  layers:         %d\n", mc.NumLayers)
	_, _ = fmt.Fprintf(w, "  heads:          %d x %d\n", mc.NumHeads, mc.HeadDim)
	_, _ = fmt.Fprintf(w, "  vocab:          %d (pad %d, bos %d, eos %d)\n", mc.VocabSize, mc.PadToken, mc.BOSToken, mc.EOSToken)
	_, _ = fmt.Fprintf(w, "  sample rate:    %d Hz at %.0f frames/s\n", mc.SampleRate, mc.FrameRate)
	_, _ = fmt.Fprintf(w, "  max length:     %d steps\n", mc.MaxLength)
	_, _ = fmt.Fprintf(w, "  guidance scale: %.1f\n", mc.GuidanceScale)
	_, _ = fmt.Fprintf(w, "  top-k:          %d\n", mc.TopK)

	_, _ = fmt.Fprintln(w, "graphs:")
	var ioErr error
	for _, g := range []struct{ name, file string }{
		{musicgen.GraphTextEncoder, musicgen.TextEncoderFile},
		{musicgen.GraphDecoder, musicgen.DecoderFile},
		{musicgen.GraphCodec, musicgen.CodecFile},
	} {
		s, err := onnx.NewSession(g.name, filepath.Join(dir, g.file))
		if err != nil {
			_, _ = fmt.Fprintf(w, "  %-22s missing\n", g.name)
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-22s %d bytes\n", s.Name, s.Size)

		if ioErr != nil {
			continue
		}
		in, out, err := open(s)
		if err != nil {
			ioErr = err
			continue
		}
		printNames(w, "inputs", in)
		printNames(w, "outputs", out)
	}

	if ioErr == nil {
		return nil
	}

	// Without a runtime, list the cache names the decoder is expected to use.
	_, _ = fmt.Fprintf(w, "session I/O unavailable: %v\n", ioErr)
	layers := []int{0}
	if mc.NumLayers > 1 {
		layers = append(layers, mc.NumLayers-1)
	}
	for _, l := range layers {
		in, out := musicgen.LayerIONames(l)
		_, _ = fmt.Fprintf(w, "expected decoder layer %d:\n", l)
		for i := range in {
			_, _ = fmt.Fprintf(w, "  %s -> %s\n", in[i], out[i])
		}
	}

	return nil
}

func printNames(w io.Writer, label string, names []string) {
	_, _ = fmt.Fprintf(w, "    %s (%d):\n", label, len(names))
	for _, n := range names {
		_, _ = fmt.Fprintf(w, "      %s\n", n)
	}
}

func inspectWAV(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if audio.IsFloatWAV(data) {
		return inspectFloatWAV(w, path, data)
	}

	info, err := audio.Inspect(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	_, _ = fmt.Fprintf(w, "%s: %d Hz, %d ch, %d-bit, %d frames, %s\n",
		path, info.SampleRate, info.Channels, info.BitDepth, info.Frames, info.Duration)

	samples, err := audio.DecodeWAV(data)
	if err != nil {
		_, _ = fmt.Fprintf(w, "  note: generated audio is %d Hz mono %d-bit\n", audio.SampleRate, audio.BitDepth)
		return nil
	}
	printLevels(w, samples)

	return nil
}

func inspectFloatWAV(w io.Writer, path string, data []byte) error {
	samples, rate, err := audio.DecodeWAVFloat32(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	d := time.Duration(float64(len(samples)) / float64(max(rate, 1)) * float64(time.Second))
	_, _ = fmt.Fprintf(w, "%s: %d Hz, %d ch, 32-bit float, %d frames, %s\n",
		path, rate, audio.Channels, len(samples), d)
	printLevels(w, samples)

	return nil
}

func printLevels(w io.Writer, samples []float32) {
	peak, rms := audio.Levels(samples)
	_, _ = fmt.Fprintf(w, "  peak %.3f, rms %.3f\n", peak, rms)
}
