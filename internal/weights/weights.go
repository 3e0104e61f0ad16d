// Package weights computes per-pair regression weights for the repeat-sales fit.
package weights

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/regression"
)

// Direction says whether value weighting favours expensive or cheap homes.
type Direction string

const (
	DirectionHigher Direction = "higher"
	DirectionLower  Direction = "lower"
)

// minOutlierSample is the smallest pair count for which quartiles are used
// to flag outliers.
const minOutlierSample = 4

// Params configures Calculate.
type Params struct {
	ValueDirection     Direction
	OutlierIQRMultiple float64
	OutlierAdjustment  float64

	// Case-Shiller iteration.
	MaxIterations int
	Tolerance     float64

	// BMN holding-period buckets. Prior may be nil, in which case an
	// unweighted fit over Periods supplies the bucket variances.
	BucketYears float64
	Prior       *regression.BucketVariance

	// Periods for the internal fits. Nil derives them from the pairs.
	Periods   []model.Period
	Frequency model.Frequency
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ValueDirection:     DirectionHigher,
		OutlierIQRMultiple: 1.5,
		OutlierAdjustment:  0.5,
		MaxIterations:      10,
		Tolerance:          1e-4,
		BucketYears:        1,
		Frequency:          model.FrequencyMonthly,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.ValueDirection != DirectionHigher && p.ValueDirection != DirectionLower {
		return calcerr.Validation("weights", string(p.ValueDirection), "value direction must be higher or lower")
	}
	if p.OutlierIQRMultiple <= 0 {
		return calcerr.Validation("weights", "", "outlier iqr multiple must be positive")
	}
	if p.OutlierAdjustment <= 0 || p.OutlierAdjustment >= 1 {
		return calcerr.Validation("weights", "", "outlier adjustment must be in (0, 1)")
	}
	if p.MaxIterations < 1 {
		return calcerr.Validation("weights", "", "max iterations must be at least 1")
	}
	if p.Tolerance <= 0 {
		return calcerr.Validation("weights", "", "tolerance must be positive")
	}
	if p.BucketYears <= 0 {
		return calcerr.Validation("weights", "", "bucket years must be positive")
	}
	return nil
}

func (p Params) periods(pairs []model.RepeatSalePair) []model.Period {
	if p.Periods != nil {
		return p.Periods
	}
	freq := p.Frequency
	if !freq.Valid() {
		freq = model.FrequencyMonthly
	}
	return regression.ActivePeriods(pairs, freq)
}

// Calculate returns one WeightCalculation per pair, in input order. The
// equal weight is always 1; the scheme's own weight is normalised to a mean
// of 1. Outliers are flagged and down-weighted through QualityAdjustment,
// never removed.
func Calculate(ctx context.Context, pairs []model.RepeatSalePair, scheme model.WeightingScheme, params Params) ([]model.WeightCalculation, error) {
	if _, err := model.ParseScheme(string(scheme)); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return []model.WeightCalculation{}, nil
	}

	out := make([]model.WeightCalculation, len(pairs))
	for i, p := range pairs {
		avg := p.AveragePrice()
		d := p.SecondSalePrice - avg
		out[i] = model.WeightCalculation{
			PairID:             p.ID,
			PropertyID:         p.PropertyID,
			EqualWeight:        1,
			AveragePrice:       avg,
			PriceVariance:      d * d,
			HoldingPeriodYears: p.HoldingPeriodYears,
			QualityAdjustment:  1,
		}
	}
	flagOutliers(pairs, out, params)

	switch scheme {
	case model.SchemeValue:
		w := valueWeights(out, params.ValueDirection)
		for i := range out {
			out[i].ValueWeight = w[i]
		}
	case model.SchemeCaseShiller:
		w, err := caseShiller(ctx, pairs, out, params)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i].CaseShillerWeight = w[i]
		}
	case model.SchemeBMN:
		w, err := bmnWeights(pairs, params)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i].BMNWeight = w[i]
		}
	}

	for _, w := range out {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Effective returns the regression weight of every pair under scheme.
func Effective(ws []model.WeightCalculation, scheme model.WeightingScheme) []float64 {
	out := make([]float64, len(ws))
	for i, w := range ws {
		out[i] = w.Effective(scheme)
	}
	return out
}

// flagOutliers marks pairs whose price ratio lies beyond the IQR fences.
func flagOutliers(pairs []model.RepeatSalePair, out []model.WeightCalculation, params Params) {
	if len(pairs) < minOutlierSample {
		return
	}
	ratios := make([]float64, len(pairs))
	for i, p := range pairs {
		ratios[i] = p.PriceRatio
	}
	sort.Float64s(ratios)
	q1 := stat.Quantile(0.25, stat.Empirical, ratios, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, ratios, nil)
	spread := params.OutlierIQRMultiple * (q3 - q1)
	lo, hi := q1-spread, q3+spread
	for i, p := range pairs {
		if p.PriceRatio < lo || p.PriceRatio > hi {
			out[i].OutlierFlag = true
			out[i].QualityAdjustment = params.OutlierAdjustment
		}
	}
}

func valueWeights(ws []model.WeightCalculation, dir Direction) []float64 {
	raw := make([]float64, len(ws))
	for i, w := range ws {
		if dir == DirectionLower {
			raw[i] = 1 / w.AveragePrice
		} else {
			raw[i] = w.AveragePrice
		}
	}
	return normalise(raw)
}

func bmnWeights(pairs []model.RepeatSalePair, params Params) ([]float64, error) {
	prior := params.Prior
	if prior == nil {
		est, err := regression.Fit(pairs, nil, params.periods(pairs))
		if err != nil {
			return nil, err
		}
		bv := regression.BucketVariances(est, params.BucketYears)
		prior = &bv
	}
	raw := make([]float64, len(pairs))
	for i, p := range pairs {
		raw[i] = 1 / prior.For(p.HoldingPeriodYears)
	}
	return normalise(raw), nil
}

// normalise scales v to a mean of 1. A zero or non-finite sum leaves every
// entry at 1.
func normalise(v []float64) []float64 {
	mean := stat.Mean(v, nil)
	out := make([]float64, len(v))
	for i, x := range v {
		if mean <= 0 || math.IsNaN(mean) || math.IsInf(mean, 0) {
			out[i] = 1
			continue
		}
		out[i] = x / mean
	}
	return out
}
