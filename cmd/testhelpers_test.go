package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/geo"
	"github.com/sells-group/rsai-cli/internal/jobs"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/monitoring"
	"github.com/sells-group/rsai-cli/internal/pairs"
	"github.com/sells-group/rsai-cli/internal/pipeline"
	"github.com/sells-group/rsai-cli/internal/store"
	"github.com/sells-group/rsai-cli/internal/weights"
)

const testCBSA = "47900"

var trueLogIndex = []float64{0, 0.02, 0.05, 0.07}

// sales links every ordered pair of 2020 quarters five times per tract.
func sales(cbsaID string, tractIDs ...string) []model.Transaction {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	var out []model.Transaction
	for _, tract := range tractIDs {
		for a := range trueLogIndex {
			for b := a + 1; b < len(trueLogIndex); b++ {
				for rep := 0; rep < 5; rep++ {
					e := 0.01 * float64(rep%3-1)
					prop := fmt.Sprintf("%s-p%d%d%d", tract, a, b, rep)
					first := model.Transaction{
						ID:         prop + "-1",
						PropertyID: prop,
						SaleDate:   start.AddDate(0, 3*a, 10+rep),
						Price:      200_000,
						TractID:    tract,
						CBSAID:     cbsaID,
					}
					second := first
					second.ID = prop + "-2"
					second.SaleDate = start.AddDate(0, 3*b, 10+rep)
					second.Price = 200_000 * math.Exp(trueLogIndex[b]-trueLogIndex[a]+e)
					out = append(out, first, second)
				}
			}
		}
	}
	return out
}

type testAPI struct {
	store   *store.SQLiteStore
	runner  *jobs.Runner
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "rsai.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	ctx := context.Background()
	_, err = st.SaveTracts(ctx, []model.GeographicUnit{
		model.NewTract("11001000100", testCBSA, 38.90, -77.03, model.TractAttributes{TractCode: "000100", CountyFIPS: "11001", StateFIPS: "11"}),
		model.NewTract("11001000200", testCBSA, 38.92, -77.01, model.TractAttributes{TractCode: "000200", CountyFIPS: "11001", StateFIPS: "11"}),
	})
	require.NoError(t, err)
	_, err = st.SaveTransactions(ctx, sales(testCBSA, "11001000100", "11001000200"))
	require.NoError(t, err)

	sto := geo.DefaultSupertractOptions()
	sto.MinObservations = 25
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	p := pipeline.New(st, pipeline.Options{
		Supertracts:      sto,
		Rules:            pairs.DefaultRules(),
		Scheme:           model.SchemeEqual,
		Weights:          weights.DefaultParams(),
		Frequency:        model.FrequencyQuarterly,
		BaseValue:        100,
		Concurrency:      2,
		BatchConcurrency: 2,
		MaxBatch:         pipeline.MaxBatch,
	}, metrics)

	runner := jobs.NewRunner(st, jobs.Options{Workers: 2, QueueSize: 8, Metrics: metrics})
	registerHandlers(runner, p)
	rctx, cancel := context.WithCancel(context.Background())
	runner.Start(rctx)
	t.Cleanup(func() {
		cancel()
		runner.Wait()
	})

	api := &apiServer{
		store:      st,
		pipeline:   p,
		runner:     runner,
		gatherer:   reg,
		maxCompare: 2,
		confidence: 1.96,
	}
	return &testAPI{store: st, runner: runner, handler: buildRouter(api, nil)}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// calculate runs an index job for cbsaID and waits for it to finish.
func (a *testAPI) calculate(t *testing.T, cbsaID string) *model.Job {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/indices", cbsaRequest{CBSAID: cbsaID})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err := a.runner.Await(ctx, submitted.ID)
	require.NoError(t, err)
	return job
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
