package index

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

func quarters(n int) []model.Period {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	return model.PeriodRange(model.FrequencyQuarterly, start, start.AddDate(0, 3*(n-1), 0))
}

func series(id string, values ...float64) model.IndexTimeSeries {
	periods := quarters(len(values))
	return model.IndexTimeSeries{
		GeographyID:    id,
		GeographyLevel: model.LevelCBSA,
		Scheme:         model.SchemeBMN,
		Frequency:      model.FrequencyQuarterly,
		Periods:        periods,
		Values:         values,
		BasePeriod:     periods[0],
		BaseValue:      values[0],
	}
}

func results(id string, obs int, coefs, ses []float64) SupertractResults {
	periods := quarters(len(coefs))
	g := SupertractResults{SupertractID: id}
	for i, c := range coefs {
		g.Results = append(g.Results, model.RegressionResult{
			SupertractID:    id,
			Period:          periods[i],
			TimeCoefficient: c,
			StandardError:   ses[i],
			NumObservations: obs,
			IsBase:          i == 0,
		})
	}
	return g
}

func TestAssemble_SingleSupertract(t *testing.T) {
	t.Parallel()

	g := results("31080-ST001", 50, []float64{0, math.Log(1.1), math.Log(1.21)}, []float64{0, 0.01, 0.02})
	s, err := Assemble([]SupertractResults{g}, AssembleOptions{GeographyID: "31080", Scheme: model.SchemeBMN})
	require.NoError(t, err)

	assert.Equal(t, model.LevelCBSA, s.GeographyLevel)
	assert.Equal(t, model.FrequencyQuarterly, s.Frequency)
	assert.Equal(t, 100.0, s.BaseValue)
	assert.Equal(t, "2020-Q1", s.BasePeriod.Key())
	require.Len(t, s.Values, 3)
	assert.InDelta(t, 100, s.Values[0], 1e-9)
	assert.InDelta(t, 110, s.Values[1], 1e-9)
	assert.InDelta(t, 121, s.Values[2], 1e-9)

	// delta method: value * se
	assert.Zero(t, s.StandardErrors[0])
	assert.InDelta(t, 1.1, s.StandardErrors[1], 1e-9)
	assert.InDelta(t, 2.42, s.StandardErrors[2], 1e-9)
	assert.Equal(t, []int{50, 50, 50}, s.NumPairs)
}

func TestAssemble_ObservationWeighted(t *testing.T) {
	t.Parallel()

	small := results("31080-ST001", 25, []float64{0, math.Log(1.2)}, []float64{0, 0})
	large := results("31080-ST002", 75, []float64{0, 0}, []float64{0, 0})
	s, err := Assemble([]SupertractResults{small, large}, AssembleOptions{GeographyID: "31080", BaseValue: 200})
	require.NoError(t, err)

	assert.InDelta(t, 200, s.Values[0], 1e-9)
	assert.InDelta(t, 200*(0.25*1.2+0.75), s.Values[1], 1e-9)
	assert.Equal(t, []int{100, 100}, s.NumPairs)
}

func TestAssemble_NonFirstBase(t *testing.T) {
	t.Parallel()

	g := results("31080-ST001", 40, []float64{0, math.Log(1.1), math.Log(1.21)}, []float64{0, 0, 0})
	s, err := Assemble([]SupertractResults{g}, AssembleOptions{GeographyID: "31080", BasePeriod: quarters(2)[1]})
	require.NoError(t, err)

	assert.Equal(t, "2020-Q2", s.BasePeriod.Key())
	assert.InDelta(t, 100/1.1, s.Values[0], 1e-9)
	assert.InDelta(t, 100, s.Values[1], 1e-9)
	assert.InDelta(t, 110, s.Values[2], 1e-9)
}

func TestAssemble_LateSupertractChainLinked(t *testing.T) {
	t.Parallel()

	full := results("31080-ST001", 40, []float64{0, math.Log(1.1)}, []float64{0, 0})
	late := results("31080-ST002", 40, []float64{0, 0.5}, []float64{0, 0})
	late.Results = late.Results[1:]

	s, err := Assemble([]SupertractResults{full, late}, AssembleOptions{GeographyID: "31080"})
	require.NoError(t, err)
	assert.InDelta(t, 100, s.Values[0], 1e-9)
	assert.InDelta(t, 110, s.Values[1], 1e-9)
	assert.Equal(t, []int{40, 80}, s.NumPairs)
}

func TestAssemble_LateSupertractCarriesItsWeight(t *testing.T) {
	t.Parallel()

	// small observes 2020-Q1..Q4 growing 1% a quarter; large starts at
	// 2020-Q2 with its own base and grows 5% a quarter.
	small := results("31080-ST001", 40,
		[]float64{0, math.Log(1.01), math.Log(1.01 * 1.01), math.Log(1.01 * 1.01 * 1.01)},
		[]float64{0, 0.01, 0.01, 0.01})
	large := results("31080-ST002", 4000,
		[]float64{0, 0, math.Log(1.05), math.Log(1.05 * 1.05)},
		[]float64{0, 0, 0.002, 0.002})
	large.Results = large.Results[1:]
	large.Results[0].IsBase = true

	s, err := Assemble([]SupertractResults{small, large}, AssembleOptions{GeographyID: "31080"})
	require.NoError(t, err)
	require.Len(t, s.Values, 4)

	assert.Equal(t, []int{40, 4040, 4040, 4040}, s.NumPairs)
	assert.InDelta(t, 100, s.Values[0], 1e-9)
	// the link period keeps the level of the anchored supertracts
	assert.InDelta(t, 101, s.Values[1], 1e-9)

	w := 4000.0 / 4040.0
	assert.InDelta(t, 100*((1-w)*1.01*1.01+w*1.01*1.05), s.Values[2], 1e-9)
	assert.InDelta(t, 100*((1-w)*1.01*1.01*1.01+w*1.01*1.05*1.05), s.Values[3], 1e-9)
	assert.Greater(t, s.Values[3], 110.0)
	assert.Greater(t, s.StandardErrors[2], 0.0)
}

func TestAssemble_LinksThroughLinkedSupertract(t *testing.T) {
	t.Parallel()

	a := results("31080-ST001", 40, []float64{0, math.Log(1.1)}, []float64{0, 0})
	b := results("31080-ST002", 40, []float64{0, 0, math.Log(1.2)}, []float64{0, 0, 0})
	b.Results = b.Results[1:]
	c := results("31080-ST003", 40, []float64{0, 0, 0, math.Log(1.5)}, []float64{0, 0, 0, 0})
	c.Results = c.Results[2:]

	// c only overlaps b, so it is linked in a later round
	s, err := Assemble([]SupertractResults{c, a, b}, AssembleOptions{GeographyID: "31080"})
	require.NoError(t, err)
	require.Len(t, s.Values, 4)
	assert.InDelta(t, 100, s.Values[0], 1e-9)
	assert.InDelta(t, 110, s.Values[1], 1e-9)
	assert.InDelta(t, 132, s.Values[2], 1e-9)
	assert.InDelta(t, 198, s.Values[3], 1e-9)
	assert.Equal(t, []int{40, 80, 80, 40}, s.NumPairs)
}

func TestAssemble_DisjointSupertractFails(t *testing.T) {
	t.Parallel()

	early := results("31080-ST001", 40, []float64{0, 0.1}, []float64{0, 0})
	later := results("31080-ST002", 40, []float64{0, 0, 0, 0.2}, []float64{0, 0, 0, 0})
	later.Results = later.Results[2:]

	_, err := Assemble([]SupertractResults{early, later}, AssembleOptions{GeographyID: "31080"})
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindInsufficientData))
	assert.Contains(t, err.Error(), "31080-ST002")
}

func TestAssemble_Errors(t *testing.T) {
	t.Parallel()

	g := results("31080-ST001", 40, []float64{0, 0.1}, []float64{0, 0})

	_, err := Assemble(nil, AssembleOptions{GeographyID: "31080"})
	assert.True(t, calcerr.Is(err, calcerr.KindInsufficientData))

	_, err = Assemble([]SupertractResults{g}, AssembleOptions{})
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = Assemble([]SupertractResults{g}, AssembleOptions{GeographyID: "31080", BaseValue: -1})
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = Assemble([]SupertractResults{g}, AssembleOptions{GeographyID: "31080", BasePeriod: quarters(5)[4]})
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	mixed := results("31080-ST002", 40, []float64{0, 0.1}, []float64{0, 0})
	mixed.Results[1].Period = model.PeriodOf(mixed.Results[1].Period.Start, model.FrequencyMonthly)
	_, err = Assemble([]SupertractResults{mixed}, AssembleOptions{GeographyID: "31080"})
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestRebase(t *testing.T) {
	t.Parallel()

	s := series("31080", 100, 110, 121)
	s.StandardErrors = []float64{0, 1.1, 2.2}
	out, err := Rebase(s, s.Periods[1], 200)
	require.NoError(t, err)

	assert.InDelta(t, 181.8, out.Values[0], 0.05)
	assert.Equal(t, 200.0, out.Values[1])
	assert.InDelta(t, 220, out.Values[2], 1e-9)
	assert.InDelta(t, 2.0, out.StandardErrors[1], 1e-9)
	assert.Equal(t, "2020-Q2", out.BasePeriod.Key())
	assert.Equal(t, 200.0, out.BaseValue)

	// growth rates survive and the input is untouched
	g0, g1 := s.GrowthRates(), out.GrowthRates()
	for i := range g0 {
		assert.InDelta(t, g0[i], g1[i], 1e-9)
	}
	assert.Equal(t, []float64{100, 110, 121}, s.Values)
}

func TestRebase_RoundTrip(t *testing.T) {
	t.Parallel()

	s := series("31080", 100, 103.2, 99.7, 108.4, 115.9)
	there, err := Rebase(s, s.Periods[3], 250)
	require.NoError(t, err)
	back, err := Rebase(there, s.BasePeriod, s.BaseValue)
	require.NoError(t, err)

	for i := range s.Values {
		assert.InDelta(t, s.Values[i], back.Values[i], 1e-9)
	}
	assert.Equal(t, s.BasePeriod.Key(), back.BasePeriod.Key())
}

func TestRebase_Errors(t *testing.T) {
	t.Parallel()

	s := series("31080", 100, 110)
	_, err := Rebase(s, quarters(4)[3], 100)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = Rebase(s, s.Periods[0], 0)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = Rebase(s, s.Periods[0], math.Inf(1))
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestRevise(t *testing.T) {
	t.Parallel()

	s := series("31080", 100, 110, 121)
	out, rev, err := Revise(s, s.Periods[2], 125.5, "late filings")
	require.NoError(t, err)

	assert.Equal(t, 125.5, out.Values[2])
	assert.Equal(t, 121.0, s.Values[2])
	assert.Equal(t, 121.0, rev.PreviousValue)
	assert.InDelta(t, 4.5, rev.RevisionAmount, 1e-9)
	assert.InDelta(t, rev.PreviousValue*(1+rev.RevisionPercentage/100), rev.RevisedValue, model.RevisionTolerance)
	assert.Equal(t, "late filings", rev.Reason)
	assert.NoError(t, rev.Validate())

	_, _, err = Revise(s, s.Periods[0], -5, "bad")
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestDetectRevisions(t *testing.T) {
	t.Parallel()

	prev := series("31080", 100, 110, 121, 130)
	next := series("31080", 100, 111, 121, 128, 133)

	revs, err := DetectRevisions(prev, next, "recalculation")
	require.NoError(t, err)
	require.Len(t, revs, 2)

	assert.Equal(t, "2020-Q2", revs[0].Period.Key())
	assert.Equal(t, "2020-Q4", revs[1].Period.Key())
	for _, r := range revs {
		assert.NoError(t, r.Validate())
		assert.InDelta(t, r.PreviousValue*(1+r.RevisionPercentage/100), r.RevisedValue, model.RevisionTolerance)
		assert.Len(t, r.AffectedPeriods, 2)
	}
	assert.InDelta(t, -1.5384615, revs[1].RevisionPercentage, 1e-6)

	none, err := DetectRevisions(prev, prev, "noop")
	require.NoError(t, err)
	assert.Empty(t, none)

	other := series("12060", 100, 110)
	_, err = DetectRevisions(prev, other, "x")
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestCompareToBenchmark(t *testing.T) {
	t.Parallel()

	ours := series("31080", 100, 110, 121)
	bench := series("fhfa-31080", 100, 105, 110.25, 115.7625)

	b, err := CompareToBenchmark(ours, bench, "31080", "fhfa-31080")
	require.NoError(t, err)

	assert.Equal(t, 3, b.SharedPeriods)
	assert.Equal(t, "2020-Q1", b.StartPeriod.Key())
	assert.Equal(t, "2020-Q3", b.EndPeriod.Key())
	assert.InDelta(t, 21, b.OurCumulativeReturn, 1e-9)
	assert.InDelta(t, 10.25, b.BenchmarkCumulativeReturn, 1e-9)
	assert.InDelta(t, 10.75, b.ExcessReturn, 1e-9)
	assert.InDelta(t, (0+5+10.75)/3, b.MeanAbsoluteDifference, 1e-9)
	assert.InDelta(t, math.Sqrt((25+10.75*10.75)/3), b.RMSE, 1e-9)

	// both series grow at a constant rate, so returns differ by a constant
	assert.InDelta(t, 0, b.TrackingError, 1e-9)
	assert.Greater(t, b.Correlation, 0.99)
	assert.Equal(t, b.Correlation, b.QualityScore)
	assert.InDelta(t, 0.75, b.ConfidenceLevel, 1e-9)
	assert.Greater(t, b.OurAnnualizedReturn, b.BenchmarkAnnualizedReturn)
}

func TestCompareToBenchmark_Errors(t *testing.T) {
	t.Parallel()

	ours := series("31080", 100, 110)
	late := series("x", 100, 110, 120)
	late.Periods = late.Periods[1:]
	late.Values = late.Values[1:]
	late.Periods = append(late.Periods, late.Periods[len(late.Periods)-1].Next())
	late.Values = append(late.Values, 130)

	_, err := CompareToBenchmark(ours, late, "31080", "x")
	assert.True(t, calcerr.Is(err, calcerr.KindInsufficientData))

	monthly := series("m", 100, 101)
	monthly.Frequency = model.FrequencyMonthly
	_, err = CompareToBenchmark(ours, monthly, "31080", "m")
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestCompare(t *testing.T) {
	t.Parallel()

	a := series("31080", 100, 110, 121, 133.1, 146.41)
	b := series("12060", 100, 99, 98, 97, 96)
	c := series("41860", 100, 102, 104)

	cmp, err := Compare(a, b, c)
	require.NoError(t, err)

	assert.Equal(t, []string{"31080", "12060", "41860"}, cmp.GeographyIDs)
	require.Len(t, cmp.Periods, 3)
	assert.Equal(t, []float64{100, 110, 121}, cmp.Series["31080"])
	require.Len(t, cmp.Stats, 3)
	assert.InDelta(t, 21, cmp.Stats[0].CumulativeReturn, 1e-9)
	assert.InDelta(t, 0, cmp.Stats[0].Volatility, 1e-9)
	assert.Equal(t, 1.0, cmp.Correlations["31080"]["31080"])
	assert.InDelta(t, -1, cmp.Correlations["31080"]["12060"], 0.01)
	assert.Equal(t, cmp.Correlations["12060"]["41860"], cmp.Correlations["41860"]["12060"])
}

func TestCompare_Limits(t *testing.T) {
	t.Parallel()

	_, err := Compare()
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	many := make([]model.IndexTimeSeries, MaxCompare+1)
	for i := range many {
		many[i] = series(string(rune('a'+i)), 100, 101)
	}
	_, err = Compare(many...)
	assert.True(t, calcerr.Is(err, calcerr.KindCapacity))

	_, err = Compare(series("31080", 100, 101), series("31080", 100, 102))
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}
