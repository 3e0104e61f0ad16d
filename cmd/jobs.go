package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel background jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List background jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		key, _ := cmd.Flags().GetString("key")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(status),
			Kind:   model.JobKind(kind),
			Key:    key,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job with its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs get")
		}
		if job == nil {
			return eris.Errorf("job %s not found", args[0])
		}
		return writeJSON(os.Stdout, job)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job on a running server",
	Long:  "Jobs run inside the serve process, so cancellation is sent to its API.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		if err := cancelRemoteJob(cmd.Context(), http.DefaultClient, server, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "cancel requested for %s\n", args[0])
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed, cancelled)")
	jobsListCmd.Flags().String("kind", "", "filter by kind (supertracts, index, batch)")
	jobsListCmd.Flags().String("key", "", "filter by key, e.g. a CBSA id")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsCancelCmd.Flags().String("server", "", "server base URL (default http://localhost:<server.port>)")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

func cancelRemoteJob(ctx context.Context, client *http.Client, server, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := strings.TrimRight(server, "/") + "/v1/jobs/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return eris.Wrap(err, "jobs cancel: build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "jobs cancel")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return eris.Errorf("jobs cancel: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tKEY\tSTATUS\tCREATED\tDURATION\tERROR")
	for _, j := range jobs {
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		dur := "-"
		if j.StartedAt != nil && j.CompletedAt != nil {
			dur = j.CompletedAt.Sub(*j.StartedAt).Round(time.Second).String()
		}
		errMsg := j.Error
		if len(errMsg) > 50 {
			errMsg = errMsg[:47] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id, j.Kind, j.Key, j.Status, j.CreatedAt.Format("2006-01-02 15:04"), dur, errMsg)
	}
	_ = w.Flush()
}
