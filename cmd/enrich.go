package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/model"
)

var enrichFile string

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Extract attribute candidates for one record without fusing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rec, err := loadRecord(enrichFile)
		if err != nil {
			return err
		}

		env, err := initService(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		candidates, err := env.Service.EnrichOne(ctx, rec)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		zap.L().Info("enrichment complete",
			zap.String("product_id", rec.ProductID),
			zap.Int("candidates", len(candidates)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ProductID  string                     `json:"product_id"`
			Candidates []model.AttributeCandidate `json:"candidates"`
		}{rec.ProductID, candidates})
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichFile, "file", "", "JSON file holding one product record (required)")
	_ = enrichCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(enrichCmd)
}
