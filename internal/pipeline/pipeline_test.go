package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/config"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/monitoring"
	"github.com/sells-group/rsai-cli/internal/store"
)

func TestCalculate_EndToEnd(t *testing.T) {
	st := newFakeStore()
	st.seed(testCBSA)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	res, err := New(st, testOptions(), metrics).Calculate(context.Background(), testCBSA)
	require.NoError(t, err)

	require.NotNil(t, res.Series)
	assert.Equal(t, testCBSA, res.Series.GeographyID)
	assert.Equal(t, model.LevelCBSA, res.Series.GeographyLevel)
	assert.Equal(t, model.SchemeEqual, res.Series.Scheme)
	assert.Equal(t, model.FrequencyQuarterly, res.Series.Frequency)
	require.Len(t, res.Series.Values, len(trueLogIndex))
	for i, want := range trueLogIndex {
		assert.InDelta(t, 100*math.Exp(want), res.Series.Values[i], 1.0, "period %d", i)
	}
	assert.InDelta(t, 100.0, res.Series.Values[0], 1e-9)

	assert.Equal(t, 60, res.Pairs)
	assert.Zero(t, res.Unassigned)
	assert.NotEmpty(t, res.Supertracts.Definitions)
	assert.Len(t, res.Runs, len(res.Supertracts.Definitions))
	for _, run := range res.Runs {
		assert.Equal(t, model.RunStatusCompleted, run.Status)
	}
	assert.Empty(t, res.Revisions)
	assert.Equal(t, model.FrequencyQuarterly, res.Frequency)
	for _, stage := range []string{"pairs", "supertracts", "design", "weights", "regression", "assemble"} {
		assert.Contains(t, res.Stages, stage)
	}

	// Persisted.
	assert.Equal(t, res.Supertracts.Definitions, st.supertracts[testCBSA])
	saved, err := st.GetIndexSeries(context.Background(), store.SeriesKey{
		GeographyID: testCBSA, Scheme: model.SchemeEqual, Frequency: model.FrequencyQuarterly,
	})
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, res.Series.Values, saved.Values)

	assert.Equal(t, 6, testutil.CollectAndCount(metrics.StageDuration))
}

func TestCalculate_RecordsRevisions(t *testing.T) {
	st := newFakeStore()
	st.seed(testCBSA)
	p := New(st, testOptions(), nil)

	first, err := p.Calculate(context.Background(), testCBSA)
	require.NoError(t, err)

	key := store.SeriesKey{GeographyID: testCBSA, Scheme: model.SchemeEqual, Frequency: model.FrequencyQuarterly}
	published := first.Series.Clone()
	published.Values[3] += 2
	st.series[key] = published

	second, err := p.Calculate(context.Background(), testCBSA)
	require.NoError(t, err)

	require.Len(t, second.Revisions, 1)
	rev := second.Revisions[0]
	assert.Equal(t, published.Periods[3], rev.Period)
	assert.InDelta(t, published.Values[3], rev.PreviousValue, 1e-9)
	assert.InDelta(t, second.Series.Values[3], rev.RevisedValue, 1e-9)
	assert.Len(t, st.revisions, 1)
}

func TestCalculate_InsufficientData(t *testing.T) {
	st := newFakeStore()
	ts := tracts(testCBSA)
	st.tracts[testCBSA] = ts
	st.txns[testCBSA] = market(testCBSA, ts[0].ID)[:10]

	_, err := New(st, testOptions(), nil).Calculate(context.Background(), testCBSA)
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindInsufficientData), "got %v", err)
	assert.Empty(t, st.series)
}

func TestCalculate_Cancelled(t *testing.T) {
	st := newFakeStore()
	st.seed(testCBSA)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(st, testOptions(), nil).Calculate(ctx, testCBSA)
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindCancelled), "got %v", err)
	assert.Empty(t, st.series)
}

func TestCalculate_StoreErrors(t *testing.T) {
	st := newFakeStore()
	st.seed(testCBSA)
	st.listErr = errors.New("connection refused")

	_, err := New(st, testOptions(), nil).Calculate(context.Background(), testCBSA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load transactions")

	st.listErr = nil
	st.saveErr = errors.New("disk full")
	_, err = New(st, testOptions(), nil).Calculate(context.Background(), testCBSA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save supertracts")
}

func TestCompute_DoesNotPersist(t *testing.T) {
	st := newFakeStore()
	ts := tracts(testCBSA)

	res, err := New(st, testOptions(), nil).Compute(context.Background(), testCBSA, market(testCBSA, ts[0].ID, ts[1].ID), ts)
	require.NoError(t, err)
	assert.Len(t, res.Series.Values, len(trueLogIndex))
	assert.Empty(t, st.series)
	assert.Empty(t, st.supertracts)
}

func TestSupertracts(t *testing.T) {
	st := newFakeStore()
	st.seed(testCBSA)

	out, err := New(st, testOptions(), nil).Supertracts(context.Background(), testCBSA)
	require.NoError(t, err)

	assigned := out.Assignments()
	assert.Len(t, assigned, 2)
	assert.Equal(t, out.Definitions, st.supertracts[testCBSA])
	total := 0
	for _, d := range out.Definitions {
		total += d.TotalRepeatPairs
	}
	assert.Equal(t, 60, total)
	assert.Empty(t, st.series)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Geography: config.GeographyConfig{
			MinObservations: 40,
			Algorithm:       "kmeans",
			MaxDistanceKM:   25,
			DistanceMethod:  "euclidean",
			MaxTracts:       1000,
		},
		Pairs: config.PairsConfig{ExcludedTypes: []string{"foreclosure"}, MinHoldingDays: 30},
		Weights: config.WeightsConfig{
			Scheme:         "case_shiller",
			ValueDirection: "higher",
			MaxIterations:  5,
			Tolerance:      1e-3,
			BucketYears:    1,
		},
		Index: config.IndexConfig{BaseValue: 1000, Frequency: "quarterly", CoarsenFrequency: true},
		Batch: config.BatchConfig{MaxCBSAs: 10, Concurrency: 3, SupertractConcurrency: 6},
	}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, model.SchemeCaseShiller, opts.Scheme)
	assert.Equal(t, model.FrequencyQuarterly, opts.Frequency)
	assert.True(t, opts.CoarsenFrequency)
	assert.InDelta(t, 1000.0, opts.BaseValue, 1e-9)
	assert.Equal(t, 30, opts.Rules.MinHoldingDays)
	assert.Equal(t, 6, opts.Concurrency)
	assert.Equal(t, 3, opts.BatchConcurrency)
	assert.Equal(t, 10, opts.MaxBatch)

	cfg.Weights.Scheme = "median"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}

func TestCompute_MonthlyWhenIdentified(t *testing.T) {
	opts := testOptions()
	opts.Frequency = model.FrequencyMonthly
	opts.CoarsenFrequency = true

	ts := tracts(testCBSA)
	res, err := New(newFakeStore(), opts, nil).Compute(context.Background(), testCBSA, market(testCBSA, ts[0].ID, ts[1].ID), ts)
	require.NoError(t, err)

	// every sale falls in the first month of its quarter
	assert.Equal(t, model.FrequencyMonthly, res.Frequency)
	assert.Equal(t, model.FrequencyMonthly, res.Series.Frequency)
	assert.Len(t, res.Series.Values, len(trueLogIndex))
}

func TestCompute_MonthlyCoarsensToQuarterly(t *testing.T) {
	opts := testOptions()
	opts.Frequency = model.FrequencyMonthly
	opts.CoarsenFrequency = true

	ts := tracts(testCBSA)
	res, err := New(newFakeStore(), opts, nil).Compute(context.Background(), testCBSA, spreadMarket(testCBSA, ts[0].ID, ts[1].ID), ts)
	require.NoError(t, err)

	assert.Equal(t, model.FrequencyQuarterly, res.Frequency)
	assert.Equal(t, model.FrequencyQuarterly, res.Series.Frequency)
	require.Len(t, res.Series.Values, len(trueLogIndex))
	for i, want := range trueLogIndex {
		assert.InDelta(t, 100*math.Exp(want), res.Series.Values[i], 1.0, "period %d", i)
	}
	for _, run := range res.Runs {
		assert.Equal(t, model.RunStatusCompleted, run.Status)
	}
}

func TestCompute_MonthlyUnidentifiedWithoutCoarsening(t *testing.T) {
	opts := testOptions()
	opts.Frequency = model.FrequencyMonthly

	ts := tracts(testCBSA)
	_, err := New(newFakeStore(), opts, nil).Compute(context.Background(), testCBSA, spreadMarket(testCBSA, ts[0].ID, ts[1].ID), ts)
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindInsufficientData))
	assert.Contains(t, err.Error(), "unlinked groups")
}
