package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import transactions or tract centroids from CSV",
}

var importTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "Import validated property sales",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("csv")

		txns, err := ingest.Open(path, ingest.ReadTransactions)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		saved, err := st.SaveTransactions(ctx, txns)
		if err != nil {
			return eris.Wrap(err, "import transactions")
		}

		zap.L().Info("import complete",
			zap.String("csv", path),
			zap.Int("read", len(txns)),
			zap.Int64("saved", saved),
		)
		return nil
	},
}

var importTractsCmd = &cobra.Command{
	Use:   "tracts",
	Short: "Import a tract centroid table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("csv")

		tracts, err := ingest.Open(path, ingest.ReadTracts)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		saved, err := st.SaveTracts(ctx, tracts)
		if err != nil {
			return eris.Wrap(err, "import tracts")
		}

		zap.L().Info("import complete",
			zap.String("csv", path),
			zap.Int("read", len(tracts)),
			zap.Int64("saved", saved),
		)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{importTransactionsCmd, importTractsCmd} {
		c.Flags().String("csv", "", "path to CSV file (required)")
		_ = c.MarkFlagRequired("csv")
		importCmd.AddCommand(c)
	}
	rootCmd.AddCommand(importCmd)
}
