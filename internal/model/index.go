package model

import (
	"math"
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// DefaultBaseValue is the conventional index level of the base period.
const DefaultBaseValue = 100.0

// RevisionTolerance bounds the gap between a revision's stored percentage and
// the one implied by its two values, in index points.
const RevisionTolerance = 0.01

// IndexValue is a single published point of an index series.
type IndexValue struct {
	GeographyID     string          `json:"geography_id"`
	GeographyLevel  GeographicLevel `json:"geography_level"`
	Period          Period          `json:"period"`
	Value           float64         `json:"index_value"`
	Scheme          WeightingScheme `json:"weighting_scheme"`
	NumPairs        int             `json:"num_pairs"`
	StandardError   float64         `json:"standard_error,omitempty"`
	ConfidenceLower float64         `json:"confidence_lower,omitempty"`
	ConfidenceUpper float64         `json:"confidence_upper,omitempty"`
}

// IndexTimeSeries is an ordered index for one geography and scheme.
// StandardErrors and NumPairs are optional; when set they are parallel to Values.
type IndexTimeSeries struct {
	GeographyID    string          `json:"geography_id"`
	GeographyLevel GeographicLevel `json:"geography_level"`
	Scheme         WeightingScheme `json:"weighting_scheme"`
	Frequency      Frequency       `json:"frequency"`
	Periods        []Period        `json:"periods"`
	Values         []float64       `json:"values"`
	StandardErrors []float64       `json:"standard_errors,omitempty"`
	NumPairs       []int           `json:"num_pairs,omitempty"`
	BasePeriod     Period          `json:"base_period"`
	BaseValue      float64         `json:"base_value"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate checks lengths, ordering and positivity.
func (s IndexTimeSeries) Validate() error {
	if len(s.Periods) == 0 {
		return calcerr.Validation("index", s.GeographyID, "series has no periods")
	}
	if len(s.Values) != len(s.Periods) {
		return calcerr.Validation("index", s.GeographyID, "%d values for %d periods", len(s.Values), len(s.Periods))
	}
	if s.StandardErrors != nil && len(s.StandardErrors) != len(s.Values) {
		return calcerr.Validation("index", s.GeographyID, "%d standard errors for %d values", len(s.StandardErrors), len(s.Values))
	}
	if s.NumPairs != nil && len(s.NumPairs) != len(s.Values) {
		return calcerr.Validation("index", s.GeographyID, "%d pair counts for %d values", len(s.NumPairs), len(s.Values))
	}
	for i, v := range s.Values {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return calcerr.Validation("index", s.GeographyID, "value %v at %s must be positive and finite", v, s.Periods[i])
		}
		if i > 0 && !s.Periods[i].Start.After(s.Periods[i-1].Start) {
			return calcerr.Validation("index", s.GeographyID, "periods out of order at %s", s.Periods[i])
		}
	}
	return nil
}

// IndexOf returns the position of period p or -1.
func (s IndexTimeSeries) IndexOf(p Period) int {
	for i, q := range s.Periods {
		if q.Start.Equal(p.Start) {
			return i
		}
	}
	return -1
}

// ValueAt returns the value at period p.
func (s IndexTimeSeries) ValueAt(p Period) (float64, bool) {
	i := s.IndexOf(p)
	if i < 0 {
		return 0, false
	}
	return s.Values[i], true
}

// SeriesSummary holds descriptive statistics of a series.
type SeriesSummary struct {
	Start            Period  `json:"start"`
	End              Period  `json:"end"`
	Count            int     `json:"count"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	Mean             float64 `json:"mean"`
	TotalReturn      float64 `json:"total_return_pct"`
	AnnualizedGrowth float64 `json:"annualized_growth_pct"`
}

// Summary computes descriptive statistics. The series must be valid.
func (s IndexTimeSeries) Summary() SeriesSummary {
	out := SeriesSummary{Count: len(s.Values)}
	if len(s.Values) == 0 {
		return out
	}
	out.Start, out.End = s.Periods[0], s.Periods[len(s.Periods)-1]
	out.Min, out.Max = s.Values[0], s.Values[0]
	var sum float64
	for _, v := range s.Values {
		out.Min = math.Min(out.Min, v)
		out.Max = math.Max(out.Max, v)
		sum += v
	}
	out.Mean = sum / float64(len(s.Values))
	first, last := s.Values[0], s.Values[len(s.Values)-1]
	out.TotalReturn = (last/first - 1) * 100
	if years := float64(len(s.Values)-1) / float64(s.Frequency.PeriodsPerYear()); years > 0 {
		out.AnnualizedGrowth = (math.Pow(last/first, 1/years) - 1) * 100
	}
	return out
}

// GrowthRates returns period-over-period percentage changes. The first
// element corresponds to the second period.
func (s IndexTimeSeries) GrowthRates() []float64 {
	return laggedChange(s.Values, 1)
}

// YearOverYearRates returns percentage changes against the same period one
// year earlier. The first element corresponds to period PeriodsPerYear.
func (s IndexTimeSeries) YearOverYearRates() []float64 {
	return laggedChange(s.Values, s.Frequency.PeriodsPerYear())
}

func laggedChange(values []float64, lag int) []float64 {
	if lag <= 0 || len(values) <= lag {
		return nil
	}
	out := make([]float64, 0, len(values)-lag)
	for i := lag; i < len(values); i++ {
		out = append(out, (values[i]/values[i-lag]-1)*100)
	}
	return out
}

// IndexValues expands the series into points. Confidence bounds are set
// only where a standard error exists; z is the normal quantile.
func (s IndexTimeSeries) IndexValues(z float64) []IndexValue {
	out := make([]IndexValue, len(s.Values))
	for i, v := range s.Values {
		iv := IndexValue{
			GeographyID:    s.GeographyID,
			GeographyLevel: s.GeographyLevel,
			Period:         s.Periods[i],
			Value:          v,
			Scheme:         s.Scheme,
		}
		if s.NumPairs != nil {
			iv.NumPairs = s.NumPairs[i]
		}
		if s.StandardErrors != nil && s.StandardErrors[i] > 0 {
			se := s.StandardErrors[i]
			iv.StandardError = se
			iv.ConfidenceLower = math.Max(0, v-z*se)
			iv.ConfidenceUpper = v + z*se
		}
		out[i] = iv
	}
	return out
}

// Clone returns a deep copy of the series.
func (s IndexTimeSeries) Clone() IndexTimeSeries {
	c := s
	c.Periods = append([]Period(nil), s.Periods...)
	c.Values = append([]float64(nil), s.Values...)
	if s.StandardErrors != nil {
		c.StandardErrors = append([]float64(nil), s.StandardErrors...)
	}
	if s.NumPairs != nil {
		c.NumPairs = append([]int(nil), s.NumPairs...)
	}
	return c
}

// IndexRevision records a change to a previously published value.
type IndexRevision struct {
	GeographyID        string          `json:"geography_id"`
	Period             Period          `json:"period"`
	Scheme             WeightingScheme `json:"weighting_scheme"`
	PreviousValue      float64         `json:"previous_value"`
	RevisedValue       float64         `json:"revised_value"`
	RevisionAmount     float64         `json:"revision_amount"`
	RevisionPercentage float64         `json:"revision_percentage"`
	Reason             string          `json:"revision_reason,omitempty"`
	AffectedPeriods    []Period        `json:"affected_periods,omitempty"`
	RevisedAt          time.Time       `json:"revised_at"`
}

// NewRevision builds a revision with amount and percentage derived from the
// two values. It does not validate.
func NewRevision(geographyID string, period Period, scheme WeightingScheme, previous, revised float64, reason string) IndexRevision {
	r := IndexRevision{
		GeographyID:    geographyID,
		Period:         period,
		Scheme:         scheme,
		PreviousValue:  previous,
		RevisedValue:   revised,
		RevisionAmount: revised - previous,
		Reason:         reason,
	}
	if previous != 0 {
		r.RevisionPercentage = (revised - previous) / previous * 100
	}
	return r
}

// Recompute returns the revision with amount and percentage derived from the
// stored values, discarding whatever the caller supplied.
func (r IndexRevision) Recompute() IndexRevision {
	fresh := NewRevision(r.GeographyID, r.Period, r.Scheme, r.PreviousValue, r.RevisedValue, r.Reason)
	fresh.AffectedPeriods = r.AffectedPeriods
	fresh.RevisedAt = r.RevisedAt
	return fresh
}

// Validate checks that revised = previous * (1 + pct/100) within tolerance.
func (r IndexRevision) Validate() error {
	id := r.GeographyID + "@" + r.Period.Key()
	if r.PreviousValue <= 0 || r.RevisedValue <= 0 {
		return calcerr.Validation("revision", id, "index values must be positive")
	}
	implied := r.PreviousValue * (1 + r.RevisionPercentage/100)
	if math.Abs(implied-r.RevisedValue) > RevisionTolerance {
		return calcerr.Validation("revision", id, "revision percentage %.4f implies %.4f, revised value is %.4f",
			r.RevisionPercentage, implied, r.RevisedValue)
	}
	return nil
}

// IndexBenchmark compares a series against an external benchmark over the
// periods they share.
type IndexBenchmark struct {
	IndexID                   string  `json:"index_id"`
	BenchmarkID               string  `json:"benchmark_id"`
	StartPeriod               Period  `json:"start_period"`
	EndPeriod                 Period  `json:"end_period"`
	SharedPeriods             int     `json:"shared_periods"`
	Correlation               float64 `json:"correlation"`
	MeanAbsoluteDifference    float64 `json:"mean_absolute_difference"`
	RMSE                      float64 `json:"rmse"`
	TrackingError             float64 `json:"tracking_error"`
	InformationRatio          float64 `json:"information_ratio"`
	OurCumulativeReturn       float64 `json:"our_cumulative_return"`
	BenchmarkCumulativeReturn float64 `json:"benchmark_cumulative_return"`
	OurAnnualizedReturn       float64 `json:"our_annualized_return"`
	BenchmarkAnnualizedReturn float64 `json:"benchmark_annualized_return"`
	ExcessReturn              float64 `json:"excess_return"`
	QualityScore              float64 `json:"quality_score"`
	ConfidenceLevel           float64 `json:"confidence_level"`
}

// Validate checks the bounded statistics.
func (b IndexBenchmark) Validate() error {
	if b.Correlation < -1 || b.Correlation > 1 {
		return calcerr.Validation("benchmark", b.IndexID, "correlation %v outside [-1, 1]", b.Correlation)
	}
	if b.QualityScore < 0 || b.QualityScore > 1 {
		return calcerr.Validation("benchmark", b.IndexID, "quality score %v outside [0, 1]", b.QualityScore)
	}
	if b.ConfidenceLevel < 0 || b.ConfidenceLevel > 1 {
		return calcerr.Validation("benchmark", b.IndexID, "confidence level %v outside [0, 1]", b.ConfidenceLevel)
	}
	return nil
}

// SeriesStats is the per-geography part of an IndexComparison.
type SeriesStats struct {
	GeographyID      string  `json:"geography_id"`
	CumulativeReturn float64 `json:"cumulative_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
}

// IndexComparison aligns several series on their shared periods.
type IndexComparison struct {
	GeographyIDs []string                      `json:"geography_ids"`
	Scheme       WeightingScheme               `json:"weighting_scheme"`
	Periods      []Period                      `json:"periods"`
	Series       map[string][]float64          `json:"series"`
	Stats        []SeriesStats                 `json:"stats"`
	Correlations map[string]map[string]float64 `json:"correlations"`
}
