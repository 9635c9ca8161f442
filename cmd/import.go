package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/backup"
)

var (
	importPath       string
	importCollection string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replay a JSON backup artifact into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		a, err := backup.Read(importPath)
		if err != nil {
			return err
		}
		records, err := a.Records()
		if err != nil {
			return eris.Wrap(err, "import: decode documents")
		}

		w, err := initWriter(ctx, importCollection)
		if err != nil {
			return err
		}
		defer w.Store().Close() //nolint:errcheck

		res, err := w.WriteBatch(ctx, records)
		if err != nil {
			return eris.Wrap(err, "import: write prices")
		}
		if len(records) > 0 {
			if err := w.WriteSummary(ctx, a.Summary); err != nil {
				return eris.Wrap(err, "import: write summary")
			}
		}

		zap.L().Info("import complete",
			zap.String("file", importPath),
			zap.Int("documents", len(records)),
			zap.Int("written", res.Written),
			zap.Int("failed", len(res.Failed)),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "path to backup JSON file (required)")
	importCmd.Flags().StringVar(&importCollection, "collection", "", "store collection (default from config)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
