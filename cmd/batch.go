package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchFile string
	batchOut  string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Predict attributes for a JSONL file of product records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		records, err := loadRecords(batchFile)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			zap.L().Info("no records found", zap.String("file", batchFile))
			return nil
		}

		env, err := initService(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("processing batch",
			zap.Int("records", len(records)),
			zap.Int("concurrency", cfg.Pipeline.Concurrency),
		)

		result, err := env.Service.PredictBatch(ctx, records)
		if err != nil {
			return eris.Wrap(err, "batch")
		}

		zap.L().Info("batch complete",
			zap.Int("succeeded", result.Succeeded()),
			zap.Int("failed", result.Failed()),
		)

		out := os.Stdout
		if batchOut != "" {
			f, err := os.Create(batchOut)
			if err != nil {
				return eris.Wrapf(err, "create output file %s", batchOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "JSONL file of product records (required)")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "write the batch result JSON here instead of stdout")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
