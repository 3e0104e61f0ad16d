package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

func quarterlySeries(values ...float64) IndexTimeSeries {
	periods := PeriodRange(FrequencyQuarterly, date(2020, time.January, 1), date(2020, time.January, 1).AddDate(0, 3*(len(values)-1), 0))
	return IndexTimeSeries{
		GeographyID:    "31080",
		GeographyLevel: LevelCBSA,
		Scheme:         SchemeEqual,
		Frequency:      FrequencyQuarterly,
		Periods:        periods,
		Values:         values,
		BasePeriod:     periods[0],
		BaseValue:      values[0],
	}
}

func TestIndexTimeSeries_Validate(t *testing.T) {
	t.Parallel()

	s := quarterlySeries(100, 102, 105)
	require.NoError(t, s.Validate())

	short := s.Clone()
	short.Values = short.Values[:2]
	assert.True(t, calcerr.Is(short.Validate(), calcerr.KindValidation))

	neg := s.Clone()
	neg.Values[1] = -1
	assert.Error(t, neg.Validate())

	se := s.Clone()
	se.StandardErrors = []float64{0, 1}
	assert.Error(t, se.Validate())

	unordered := s.Clone()
	unordered.Periods[1], unordered.Periods[2] = unordered.Periods[2], unordered.Periods[1]
	assert.Error(t, unordered.Validate())
}

func TestIndexTimeSeries_Summary(t *testing.T) {
	t.Parallel()

	s := quarterlySeries(100, 90, 110, 120, 121)
	sum := s.Summary()

	assert.Equal(t, 5, sum.Count)
	assert.Equal(t, 90.0, sum.Min)
	assert.Equal(t, 121.0, sum.Max)
	assert.InDelta(t, 108.2, sum.Mean, 1e-9)
	assert.InDelta(t, 21.0, sum.TotalReturn, 1e-9)
	// four quarters is one year
	assert.InDelta(t, 21.0, sum.AnnualizedGrowth, 1e-9)
	assert.Equal(t, "2020-Q1", sum.Start.Key())
	assert.Equal(t, "2021-Q1", sum.End.Key())
}

func TestIndexTimeSeries_GrowthRates(t *testing.T) {
	t.Parallel()

	s := quarterlySeries(100, 110, 121, 121, 133.1)
	g := s.GrowthRates()
	require.Len(t, g, 4)
	assert.InDelta(t, 10, g[0], 1e-9)
	assert.InDelta(t, 10, g[1], 1e-9)
	assert.InDelta(t, 0, g[2], 1e-9)

	yoy := s.YearOverYearRates()
	require.Len(t, yoy, 1)
	assert.InDelta(t, 33.1, yoy[0], 1e-9)
}

func TestIndexTimeSeries_IndexValues(t *testing.T) {
	t.Parallel()

	s := quarterlySeries(100, 110)
	s.StandardErrors = []float64{0, 2}
	s.NumPairs = []int{50, 60}

	vals := s.IndexValues(1.96)
	require.Len(t, vals, 2)
	assert.Zero(t, vals[0].ConfidenceLower)
	assert.Equal(t, 50, vals[0].NumPairs)
	assert.InDelta(t, 106.08, vals[1].ConfidenceLower, 1e-9)
	assert.InDelta(t, 113.92, vals[1].ConfidenceUpper, 1e-9)
	assert.Equal(t, "31080", vals[1].GeographyID)
}

func TestIndexTimeSeries_ValueAt(t *testing.T) {
	t.Parallel()

	s := quarterlySeries(100, 110)
	v, ok := s.ValueAt(s.Periods[1])
	assert.True(t, ok)
	assert.Equal(t, 110.0, v)

	_, ok = s.ValueAt(PeriodOf(date(1999, time.January, 1), FrequencyQuarterly))
	assert.False(t, ok)
}

func TestNewRevision_RecomputesPercentage(t *testing.T) {
	t.Parallel()

	p := PeriodOf(date(2021, time.March, 1), FrequencyMonthly)
	r := NewRevision("31080", p, SchemeEqual, 120, 126, "late sales")
	require.NoError(t, r.Validate())
	assert.InDelta(t, 5.0, r.RevisionPercentage, 1e-12)
	assert.InDelta(t, 6.0, r.RevisionAmount, 1e-12)

	r.RevisionPercentage = 7
	err := r.Validate()
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	fixed := r.Recompute()
	require.NoError(t, fixed.Validate())
	assert.InDelta(t, r.PreviousValue*(1+fixed.RevisionPercentage/100), fixed.RevisedValue, RevisionTolerance)
}

func TestIndexBenchmark_Validate(t *testing.T) {
	t.Parallel()

	b := IndexBenchmark{IndexID: "31080", Correlation: 0.9, QualityScore: 0.9, ConfidenceLevel: 1}
	require.NoError(t, b.Validate())

	b.Correlation = 1.2
	assert.Error(t, b.Validate())
}
