package index

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

const daysPerYear = 365.25

// CompareToBenchmark aligns ours and benchmark on their shared periods and
// measures how closely they move. Returns and errors are in percent.
func CompareToBenchmark(ours, benchmark model.IndexTimeSeries, indexID, benchmarkID string) (*model.IndexBenchmark, error) {
	if err := ours.Validate(); err != nil {
		return nil, err
	}
	if err := benchmark.Validate(); err != nil {
		return nil, err
	}
	if ours.Frequency != benchmark.Frequency {
		return nil, calcerr.Validation("benchmark", indexID, "frequency %s does not match benchmark %s", ours.Frequency, benchmark.Frequency)
	}

	periods := sharedPeriods(ours, benchmark)
	if len(periods) < 2 {
		return nil, calcerr.InsufficientData("benchmark", indexID, "%d shared periods, need at least 2", len(periods))
	}
	a := aligned(ours, periods)
	b := aligned(benchmark, periods)

	var absSum, sqSum float64
	for i := range a {
		d := a[i] - b[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(a))

	diff := make([]float64, 0, len(a)-1)
	ra, rb := returns(a), returns(b)
	for i := range ra {
		diff = append(diff, ra[i]-rb[i])
	}
	tracking := 0.0
	if len(diff) > 1 {
		tracking = stat.StdDev(diff, nil)
	}
	info := 0.0
	if tracking > 0 {
		info = stat.Mean(diff, nil) / tracking
	}

	years := spanYears(periods)
	out := &model.IndexBenchmark{
		IndexID:                   indexID,
		BenchmarkID:               benchmarkID,
		StartPeriod:               periods[0],
		EndPeriod:                 periods[len(periods)-1],
		SharedPeriods:             len(periods),
		Correlation:               correlation(a, b),
		MeanAbsoluteDifference:    absSum / n,
		RMSE:                      math.Sqrt(sqSum / n),
		TrackingError:             tracking,
		InformationRatio:          info,
		OurCumulativeReturn:       cumulative(a),
		BenchmarkCumulativeReturn: cumulative(b),
		OurAnnualizedReturn:       annualized(a, years),
		BenchmarkAnnualizedReturn: annualized(b, years),
	}
	out.ExcessReturn = out.OurCumulativeReturn - out.BenchmarkCumulativeReturn
	out.QualityScore = math.Max(0, out.Correlation)
	out.ConfidenceLevel = float64(len(periods)) / float64(unionCount(ours, benchmark))

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// sharedPeriods returns the periods present in every series, in order.
func sharedPeriods(series ...model.IndexTimeSeries) []model.Period {
	if len(series) == 0 {
		return nil
	}
	var out []model.Period
	for _, p := range series[0].Periods {
		shared := true
		for _, s := range series[1:] {
			if s.IndexOf(p) < 0 {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, p)
		}
	}
	return out
}

func unionCount(a, b model.IndexTimeSeries) int {
	seen := make(map[int64]bool, len(a.Periods)+len(b.Periods))
	for _, p := range a.Periods {
		seen[p.Start.Unix()] = true
	}
	for _, p := range b.Periods {
		seen[p.Start.Unix()] = true
	}
	return len(seen)
}

func aligned(s model.IndexTimeSeries, periods []model.Period) []float64 {
	out := make([]float64, len(periods))
	for i, p := range periods {
		out[i], _ = s.ValueAt(p)
	}
	return out
}

// returns gives period-over-period percentage changes.
func returns(v []float64) []float64 {
	if len(v) < 2 {
		return nil
	}
	out := make([]float64, len(v)-1)
	for i := 1; i < len(v); i++ {
		out[i-1] = (v[i]/v[i-1] - 1) * 100
	}
	return out
}

func cumulative(v []float64) float64 {
	return (v[len(v)-1]/v[0] - 1) * 100
}

func annualized(v []float64, years float64) float64 {
	if years <= 0 {
		return 0
	}
	return (math.Pow(v[len(v)-1]/v[0], 1/years) - 1) * 100
}

func spanYears(periods []model.Period) float64 {
	return periods[len(periods)-1].Start.Sub(periods[0].Start).Hours() / 24 / daysPerYear
}

// correlation is the Pearson correlation of two level series, zero when
// either is constant.
func correlation(a, b []float64) float64 {
	c := stat.Correlation(a, b, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, c))
}
