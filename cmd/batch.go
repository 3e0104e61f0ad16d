package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rsai-cli/internal/pipeline"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Calculate the indices of many CBSAs",
	Long:  "Calculates and stores the index of each CBSA concurrently. A failing CBSA is reported and does not stop the others.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ids, _ := cmd.Flags().GetStringSlice("cbsas")
		file, _ := cmd.Flags().GetString("file")
		if file != "" {
			fromFile, err := readIDFile(file)
			if err != nil {
				return err
			}
			ids = append(ids, fromFile...)
		}
		if len(ids) == 0 {
			return eris.New("batch: pass --cbsas or --file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := newPipeline(st, nil, overridesFrom(cmd))
		if err != nil {
			return err
		}
		res, err := p.BatchCalculate(ctx, ids)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, res)
		}
		formatBatch(os.Stdout, res)
		if res.Failed > 0 || res.Cancelled > 0 {
			return eris.Errorf("batch: %d of %d CBSAs did not complete", res.Failed+res.Cancelled, len(res.Items))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringSlice("cbsas", nil, "CBSA ids to calculate")
	batchCmd.Flags().String("file", "", "file with one CBSA id per line")
	batchCmd.Flags().String("scheme", "", "weighting scheme (default from config)")
	batchCmd.Flags().String("frequency", "", "index frequency (default from config)")
	batchCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(batchCmd)
}

// readIDFile reads one id per line, skipping blanks and # comments.
func readIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "batch: read %s", path)
	}
	return ids, nil
}

// formatBatch writes one row per CBSA and a totals line to out.
func formatBatch(out io.Writer, res *pipeline.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CBSA\tSTATUS\tPERIODS\tLAST_VALUE\tDURATION\tERROR")
	for _, it := range res.Items {
		periods, last := "-", "-"
		if it.Series != nil && len(it.Series.Values) > 0 {
			periods = fmt.Sprintf("%d", len(it.Series.Values))
			last = fmt.Sprintf("%.2f", it.Series.Values[len(it.Series.Values)-1])
		}
		errMsg := it.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.CBSAID, it.Status, periods, last, it.Elapsed.Round(time.Millisecond), errMsg)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d completed, %d failed, %d cancelled in %s\n",
		res.Completed, res.Failed, res.Cancelled, res.Elapsed.Round(time.Millisecond))
}
