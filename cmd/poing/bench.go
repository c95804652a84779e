package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gijzelaerr/poing/internal/bench"
	"github.com/gijzelaerr/poing/internal/config"
	"github.com/gijzelaerr/poing/internal/musicgen"
)

type benchCmdOptions struct {
	Text         string
	Runs         int
	Format       string
	RTFThreshold float64
}

func newBenchCmd() *cobra.Command {
	var opts benchCmdOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark generation latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runBenchCmd(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Text, "text", "", "Prompt to generate for each run (required)")
	cmd.Flags().IntVar(&opts.Runs, "runs", 3, "Number of generation runs")
	cmd.Flags().StringVar(&opts.Format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&opts.RTFThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}

func runBenchCmd(ctx context.Context, cfg config.Config, opts benchCmdOptions, w io.Writer) error {
	if opts.Runs < 1 {
		return fmt.Errorf("--runs must be at least 1")
	}
	if opts.Format != "table" && opts.Format != "json" {
		return fmt.Errorf("--format must be 'table' or 'json'")
	}

	params, tempo := musicgen.ParamsFromConfig(cfg.Generation)
	req, err := musicgen.NewRequest(opts.Text, params, tempo)
	if err != nil {
		return fmt.Errorf("--text: %w", err)
	}
	if err := req.Params.Validate(); err != nil {
		return err
	}

	p, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	results, err := bench.Run(ctx, p, bench.Options{
		Request:    req,
		Runs:       opts.Runs,
		SampleRate: p.SampleRate(),
	})
	if err != nil {
		return err
	}

	stats := bench.ComputeStats(results)
	switch opts.Format {
	case "json":
		if err := bench.FormatJSON(results, stats, w); err != nil {
			return err
		}
	default:
		bench.FormatTable(results, stats, w)
	}

	return bench.CheckRTFThreshold(stats.MeanRTF, opts.RTFThreshold)
}
