package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/jobs"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/monitoring"
	"github.com/sells-group/rsai-cli/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background job runner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := monitoring.NewMetrics(reg)

		p, err := newPipeline(st, metrics, calcOverrides{})
		if err != nil {
			return err
		}

		runner := jobs.NewRunner(st, jobs.Options{
			Workers:   cfg.Jobs.Workers,
			QueueSize: cfg.Jobs.QueueSize,
			Metrics:   metrics,
		})
		registerHandlers(runner, p)
		if _, err := runner.Recover(ctx); err != nil {
			return err
		}
		runner.Start(ctx)

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, time.Duration(cfg.Monitoring.StuckAfterMinutes)*time.Minute),
			monitoring.NewAlerter(cfg.Monitoring),
			metrics,
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		api := &apiServer{
			store:      st,
			pipeline:   p,
			runner:     runner,
			gatherer:   reg,
			maxCompare: cfg.Batch.MaxCompare,
			confidence: cfg.Index.ConfidenceZ,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(api, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		runner.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the API routes, CORS and the metrics endpoint.
func buildRouter(api *apiServer, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", api.health)
	if api.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/distances", api.distances)
		r.Post("/supertracts", api.submitSupertracts)
		r.Get("/supertracts/{cbsa}", api.listSupertracts)

		r.Post("/indices", api.submitIndex)
		r.Post("/indices/compare", api.compare)
		r.Route("/indices/{cbsa}", func(r chi.Router) {
			r.Get("/", api.getIndex)
			r.Post("/rebase", api.rebase)
			r.Post("/benchmark", api.benchmark)
			r.Get("/revisions", api.revisions)
		})

		r.Post("/batch", api.submitBatch)

		r.Get("/jobs", api.listJobs)
		r.Get("/jobs/{id}", api.getJob)
		r.Delete("/jobs/{id}", api.cancelJob)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// registerHandlers binds the pipeline operations to job kinds.
func registerHandlers(runner *jobs.Runner, p *pipeline.Pipeline) {
	runner.Register(model.JobKindSupertracts, func(ctx context.Context, job *model.Job) (any, error) {
		return p.Supertracts(ctx, job.Key)
	})
	runner.Register(model.JobKindIndex, func(ctx context.Context, job *model.Job) (any, error) {
		res, err := p.Calculate(ctx, job.Key)
		if err != nil {
			return nil, err
		}
		return indexJobResult{
			Series:      res.Series,
			Supertracts: len(res.Supertracts.Definitions),
			Pairs:       res.Pairs,
			Unassigned:  res.Unassigned,
			Excluded:    res.Excluded,
			Revisions:   len(res.Revisions),
			ElapsedMS:   res.Elapsed.Milliseconds(),
		}, nil
	})
	runner.Register(model.JobKindBatch, func(ctx context.Context, job *model.Job) (any, error) {
		var params batchRequest
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, eris.Wrap(err, "batch: decode params")
		}
		return p.BatchCalculate(ctx, params.CBSAIDs)
	})
}

// batchKey identifies a batch job by its sorted CBSA set.
func batchKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
