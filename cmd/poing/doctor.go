package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gijzelaerr/poing/internal/config"
	"github.com/gijzelaerr/poing/internal/doctor"
	"github.com/gijzelaerr/poing/internal/onnx"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			result := doctor.Run(cmd.Context(), doctorConfig(cfg), os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

func doctorConfig(cfg config.Config) doctor.Config {
	return doctor.Config{
		ORTRuntime: func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%s, from %s)", info.LibraryPath, info.Version, info.Source), nil
		},
		ModelDir:      cfg.Paths.ModelDir,
		TokenizerFile: cfg.Paths.TokenizerFile,
	}
}
