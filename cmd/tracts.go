package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/tiger"
)

var tractsCmd = &cobra.Command{
	Use:   "tracts",
	Short: "Load census tract centroids",
}

var tractsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download TIGER/Line tract shapefiles and store their centroids",
	Long:  "Downloads the census tract shapefile of each state, computes tract centroids, assigns tracts to CBSAs through a county crosswalk and stores them.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		crosswalkPath, _ := cmd.Flags().GetString("crosswalk")
		states, _ := cmd.Flags().GetStringSlice("states")
		cbsas, _ := cmd.Flags().GetStringSlice("cbsas")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		cw, err := tiger.ReadCrosswalkFile(crosswalkPath)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := tiger.Load(ctx, st, cw, tiger.LoadOptions{
			Year:        cfg.Tiger.Year,
			BaseURL:     cfg.Tiger.BaseURL,
			States:      states,
			CBSAs:       cbsas,
			TempDir:     cfg.Tiger.TempDir,
			Concurrency: concurrency,
		})
		if err != nil {
			return eris.Wrap(err, "tracts load")
		}

		zap.L().Info("tract load complete",
			zap.Int("states", res.States),
			zap.Int("read", res.Read),
			zap.Int64("saved", res.Saved),
			zap.Int("outside_cbsa", res.OutsideCBSA),
		)
		return writeJSON(os.Stdout, res)
	},
}

var tractsListCmd = &cobra.Command{
	Use:   "list <cbsa-id>",
	Short: "List the stored tracts of a CBSA",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tracts, err := st.ListTracts(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tracts list")
		}
		return writeJSON(os.Stdout, tracts)
	},
}

func init() {
	tractsLoadCmd.Flags().String("crosswalk", "", "county to CBSA crosswalk CSV (required)")
	_ = tractsLoadCmd.MarkFlagRequired("crosswalk")
	tractsLoadCmd.Flags().StringSlice("states", nil, "states to load, as abbreviations or FIPS codes (default all)")
	tractsLoadCmd.Flags().StringSlice("cbsas", nil, "keep only tracts in these CBSAs")
	tractsLoadCmd.Flags().Int("concurrency", 3, "parallel state downloads")

	tractsCmd.AddCommand(tractsLoadCmd)
	tractsCmd.AddCommand(tractsListCmd)
	rootCmd.AddCommand(tractsCmd)
}
