package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/model"
)

var (
	predictID    string
	predictTitle string
	predictDesc  string
	predictImage string
	predictFile  string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict attributes for a single product record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rec, err := predictInput()
		if err != nil {
			return err
		}

		env, err := initService(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Service.PredictOne(ctx, rec)
		if err != nil {
			return eris.Wrap(err, "predict")
		}

		zap.L().Info("prediction complete",
			zap.String("product_id", result.ProductID),
			zap.Int("attributes", len(result.FinalPredictions)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictID, "id", "", "product id")
	predictCmd.Flags().StringVar(&predictTitle, "title", "", "product title")
	predictCmd.Flags().StringVar(&predictDesc, "desc", "", "product description")
	predictCmd.Flags().StringVar(&predictImage, "image", "", "product image URL or local path")
	predictCmd.Flags().StringVar(&predictFile, "file", "", "JSON file holding one product record")
	rootCmd.AddCommand(predictCmd)
}

// predictInput builds the record from --file when given, otherwise from the
// inline flags.
func predictInput() (model.ProductRecord, error) {
	if predictFile != "" {
		return loadRecord(predictFile)
	}
	if predictID == "" || predictTitle == "" {
		return model.ProductRecord{}, eris.New("predict: --id and --title are required without --file")
	}
	return model.ProductRecord{
		ProductID:   predictID,
		Title:       predictTitle,
		Description: predictDesc,
		ImageURL:    predictImage,
	}, nil
}
