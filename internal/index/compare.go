package index

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// MaxCompare caps the number of series in one comparison.
const MaxCompare = 20

// Compare aligns up to MaxCompare series of one scheme and frequency on the
// periods they all share and reports returns, annualized volatility and
// pairwise correlations.
func Compare(series ...model.IndexTimeSeries) (*model.IndexComparison, error) {
	if len(series) == 0 {
		return nil, calcerr.Validation("compare", "", "no series to compare")
	}
	if len(series) > MaxCompare {
		return nil, calcerr.Capacity("compare", len(series), MaxCompare)
	}

	first := series[0]
	ids := make([]string, len(series))
	seen := make(map[string]bool, len(series))
	for i, s := range series {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.GeographyID] {
			return nil, calcerr.Validation("compare", s.GeographyID, "geography listed twice")
		}
		seen[s.GeographyID] = true
		if s.Scheme != first.Scheme || s.Frequency != first.Frequency {
			return nil, calcerr.Validation("compare", s.GeographyID, "scheme or frequency differs from %s", first.GeographyID)
		}
		ids[i] = s.GeographyID
	}

	periods := sharedPeriods(series...)
	if len(periods) < 2 {
		return nil, calcerr.InsufficientData("compare", "", "%d shared periods, need at least 2", len(periods))
	}
	years := spanYears(periods)
	perYear := float64(first.Frequency.PeriodsPerYear())

	out := &model.IndexComparison{
		GeographyIDs: ids,
		Scheme:       first.Scheme,
		Periods:      periods,
		Series:       make(map[string][]float64, len(series)),
		Stats:        make([]model.SeriesStats, 0, len(series)),
		Correlations: make(map[string]map[string]float64, len(series)),
	}
	for _, s := range series {
		v := aligned(s, periods)
		out.Series[s.GeographyID] = v

		st := model.SeriesStats{
			GeographyID:      s.GeographyID,
			CumulativeReturn: cumulative(v),
			AnnualizedReturn: annualized(v, years),
		}
		if r := returns(v); len(r) > 1 {
			st.Volatility = stat.StdDev(r, nil) * math.Sqrt(perYear)
		}
		if st.Volatility > 0 {
			st.SharpeRatio = st.AnnualizedReturn / st.Volatility
		}
		out.Stats = append(out.Stats, st)
	}
	for _, a := range ids {
		out.Correlations[a] = make(map[string]float64, len(ids))
		for _, b := range ids {
			if a == b {
				out.Correlations[a][b] = 1
				continue
			}
			out.Correlations[a][b] = correlation(out.Series[a], out.Series[b])
		}
	}
	return out, nil
}
