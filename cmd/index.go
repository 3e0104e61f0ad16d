package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/index"
	"github.com/sells-group/rsai-cli/internal/ingest"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/store"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Calculate, inspect and compare price indices",
}

// -- index calculate --

var indexCalculateCmd = &cobra.Command{
	Use:   "calculate <cbsa-id>",
	Short: "Calculate and store the price index of a CBSA",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := newPipeline(st, nil, overridesFrom(cmd))
		if err != nil {
			return err
		}
		res, err := p.Calculate(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "index calculate")
		}

		if csvOut, _ := cmd.Flags().GetBool("csv"); csvOut {
			return ingest.WriteSeries(os.Stdout, *res.Series)
		}
		formatSeries(os.Stdout, *res.Series, cfg.Index.ConfidenceZ)
		if want := p.Options().Frequency; res.Frequency != want {
			fmt.Fprintf(os.Stdout, "\ntoo few linked sales for a %s index; stored as %s\n", want, res.Frequency)
		}
		if len(res.Revisions) > 0 {
			fmt.Fprintf(os.Stdout, "\n%d published values revised\n", len(res.Revisions))
		}
		return nil
	},
}

// -- index show --

var indexShowCmd = &cobra.Command{
	Use:   "show <cbsa-id>",
	Short: "Show the stored index of a CBSA",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := loadSeries(ctx, st, args[0], overridesFrom(cmd))
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, map[string]any{
				"values":  s.IndexValues(cfg.Index.ConfidenceZ),
				"summary": s.Summary(),
			})
		}
		if csvOut, _ := cmd.Flags().GetBool("csv"); csvOut {
			return ingest.WriteSeries(os.Stdout, *s)
		}
		formatSeries(os.Stdout, *s, cfg.Index.ConfidenceZ)
		return nil
	},
}

// -- index rebase --

var indexRebaseCmd = &cobra.Command{
	Use:   "rebase <cbsa-id>",
	Short: "Rescale the stored index so a period takes a given value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		periodKey, _ := cmd.Flags().GetString("period")
		value, _ := cmd.Flags().GetFloat64("value")
		save, _ := cmd.Flags().GetBool("save")

		period, err := model.ParsePeriod(periodKey)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := loadSeries(ctx, st, args[0], overridesFrom(cmd))
		if err != nil {
			return err
		}
		rebased, err := index.Rebase(*s, period, value)
		if err != nil {
			return err
		}
		if save {
			if err := st.SaveIndexSeries(ctx, rebased); err != nil {
				return eris.Wrap(err, "index rebase: save")
			}
		}
		formatSeries(os.Stdout, rebased, cfg.Index.ConfidenceZ)
		return nil
	},
}

// -- index benchmark --

var indexBenchmarkCmd = &cobra.Command{
	Use:   "benchmark <cbsa-id>",
	Short: "Compare the stored index of a CBSA with an external benchmark series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("csv")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = path
		}

		bench, err := ingest.Open(path, func(r io.Reader) (*model.IndexTimeSeries, error) {
			return ingest.ReadSeries(r, name)
		})
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ours, err := loadSeries(ctx, st, args[0], overridesFrom(cmd))
		if err != nil {
			return err
		}
		res, err := index.CompareToBenchmark(*ours, *bench, args[0], name)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, res)
	},
}

// -- index compare --

var indexCompareCmd = &cobra.Command{
	Use:   "compare <cbsa-id> <cbsa-id>...",
	Short: "Compare the stored indices of several CBSAs",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(args) > cfg.Batch.MaxCompare {
			return calcerr.Capacity("compare", len(args), cfg.Batch.MaxCompare)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		o := overridesFrom(cmd)
		series := make([]model.IndexTimeSeries, 0, len(args))
		for _, id := range args {
			s, err := loadSeries(ctx, st, id, o)
			if err != nil {
				return err
			}
			series = append(series, *s)
		}
		res, err := index.Compare(series...)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, res)
	},
}

// -- index revise --

var indexReviseCmd = &cobra.Command{
	Use:   "revise <cbsa-id>",
	Short: "Correct one published index value and record the revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		periodKey, _ := cmd.Flags().GetString("period")
		value, _ := cmd.Flags().GetFloat64("value")
		reason, _ := cmd.Flags().GetString("reason")
		period, err := model.ParsePeriod(periodKey)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := loadSeries(ctx, st, args[0], overridesFrom(cmd))
		if err != nil {
			return err
		}
		revised, rev, err := index.Revise(*s, period, value, reason)
		if err != nil {
			return err
		}
		if err := st.SaveRevisions(ctx, []model.IndexRevision{rev}); err != nil {
			return eris.Wrap(err, "index revise: save revision")
		}
		if err := st.SaveIndexSeries(ctx, revised); err != nil {
			return eris.Wrap(err, "index revise: save series")
		}
		formatRevisions(os.Stdout, []model.IndexRevision{rev})
		return nil
	},
}

// -- index revisions --

var indexRevisionsCmd = &cobra.Command{
	Use:   "revisions <cbsa-id>",
	Short: "List recorded revisions of a CBSA index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		revs, err := st.ListRevisions(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "index revisions")
		}
		if len(revs) == 0 {
			fmt.Fprintln(os.Stderr, "No revisions found.")
			return nil
		}
		formatRevisions(os.Stdout, revs)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{indexCalculateCmd, indexShowCmd, indexRebaseCmd, indexBenchmarkCmd, indexCompareCmd, indexReviseCmd} {
		c.Flags().String("scheme", "", "weighting scheme: equal, value, case_shiller or bmn (default from config)")
		c.Flags().String("frequency", "", "monthly, quarterly or annual (default from config)")
	}
	indexCalculateCmd.Flags().Bool("csv", false, "print the series as CSV")
	indexShowCmd.Flags().Bool("csv", false, "print the series as CSV")
	indexShowCmd.Flags().Bool("json", false, "print values with confidence bounds and a summary as JSON")

	indexRebaseCmd.Flags().String("period", "", "new base period, e.g. 2020-01, 2020-Q1 or 2020 (required)")
	indexRebaseCmd.Flags().Float64("value", 100, "value of the new base period")
	indexRebaseCmd.Flags().Bool("save", false, "replace the stored series with the rebased one")
	_ = indexRebaseCmd.MarkFlagRequired("period")

	indexBenchmarkCmd.Flags().String("csv", "", "benchmark series CSV with period and value columns (required)")
	indexBenchmarkCmd.Flags().String("name", "", "benchmark name (default the file path)")
	_ = indexBenchmarkCmd.MarkFlagRequired("csv")

	indexReviseCmd.Flags().String("period", "", "period to correct (required)")
	indexReviseCmd.Flags().Float64("value", 0, "corrected index value (required)")
	indexReviseCmd.Flags().String("reason", "manual correction", "reason recorded with the revision")
	_ = indexReviseCmd.MarkFlagRequired("period")
	_ = indexReviseCmd.MarkFlagRequired("value")

	indexCmd.AddCommand(indexCalculateCmd, indexShowCmd, indexRebaseCmd, indexBenchmarkCmd, indexCompareCmd, indexReviseCmd, indexRevisionsCmd)
	rootCmd.AddCommand(indexCmd)
}

func overridesFrom(cmd *cobra.Command) calcOverrides {
	var o calcOverrides
	if f := cmd.Flags().Lookup("scheme"); f != nil {
		o.Scheme = f.Value.String()
	}
	if f := cmd.Flags().Lookup("frequency"); f != nil {
		o.Frequency = f.Value.String()
	}
	return o
}

func loadSeries(ctx context.Context, st store.Store, cbsaID string, o calcOverrides) (*model.IndexTimeSeries, error) {
	key, err := seriesKey(cbsaID, o)
	if err != nil {
		return nil, err
	}
	s, err := st.GetIndexSeries(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "load series %s", cbsaID)
	}
	if s == nil {
		return nil, eris.Errorf("no %s %s index stored for %s; run index calculate first", key.Frequency, key.Scheme, cbsaID)
	}
	return s, nil
}

// formatSeries writes a table of index values with confidence bounds to out.
func formatSeries(out io.Writer, s model.IndexTimeSeries, z float64) {
	_, _ = fmt.Fprintf(out, "%s  %s  %s  base %s = %.2f\n\n", s.GeographyID, s.Scheme, s.Frequency, s.BasePeriod, s.BaseValue)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tVALUE\tSE\tLOWER\tUPPER\tPAIRS")
	for _, v := range s.IndexValues(z) {
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%.3f\t%.2f\t%.2f\t%d\n",
			v.Period, v.Value, v.StandardError, v.ConfidenceLower, v.ConfidenceUpper, v.NumPairs)
	}
	_ = w.Flush()

	sum := s.Summary()
	_, _ = fmt.Fprintf(out, "\ntotal return %.2f%%, annualized %.2f%% over %d periods\n",
		sum.TotalReturn, sum.AnnualizedGrowth, sum.Count)
}

// formatRevisions writes a table of revisions to out.
func formatRevisions(out io.Writer, revs []model.IndexRevision) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tSCHEME\tPREVIOUS\tREVISED\tCHANGE\tREASON\tREVISED_AT")
	for _, r := range revs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%+.2f%%\t%s\t%s\n",
			r.Period, r.Scheme, r.PreviousValue, r.RevisedValue, r.RevisionPercentage,
			r.Reason, r.RevisedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
