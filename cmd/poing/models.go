package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gijzelaerr/poing/internal/doctor"
	"github.com/gijzelaerr/poing/internal/server"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured model directories and whether they are usable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			printModels(cmd.OutOrStdout(), server.DirLister{
				Dirs:          cfg.KnownModelDirs(),
				TokenizerFile: cfg.Paths.TokenizerFile,
			}.ListModels())

			return nil
		},
	}
}

func printModels(w io.Writer, models []server.ModelInfo) {
	for _, m := range models {
		if m.Valid {
			_, _ = fmt.Fprintf(w, "%s %s\n", doctor.PassMark, m.Dir)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", doctor.FailMark, m.Dir, m.Error)
	}
}
