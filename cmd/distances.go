package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rsai-cli/internal/geo"
)

var distancesCmd = &cobra.Command{
	Use:   "distances <cbsa-id>",
	Short: "Compute distances between the tract centroids of a CBSA",
	Long:  "Prints every tract pair with its distance, or with --tract the nearest neighbours of one tract.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		methodFlag, _ := cmd.Flags().GetString("method")
		tract, _ := cmd.Flags().GetString("tract")
		k, _ := cmd.Flags().GetInt("k")

		if methodFlag == "" {
			methodFlag = cfg.Geography.DistanceMethod
		}
		method, err := geo.ParseMethod(methodFlag)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tracts, err := st.ListTracts(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "distances: load tracts")
		}
		m, err := geo.CalculateDistances(tracts, method)
		if err != nil {
			return err
		}

		if tract != "" {
			nn, err := m.Nearest(tract, k)
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, nn)
		}
		return writeJSON(os.Stdout, m.Entries())
	},
}

func init() {
	distancesCmd.Flags().String("method", "", "great_circle, haversine or euclidean (default from config)")
	distancesCmd.Flags().String("tract", "", "print the nearest neighbours of this tract only")
	distancesCmd.Flags().Int("k", 10, "neighbours to print with --tract (0 for all)")
	rootCmd.AddCommand(distancesCmd)
}
