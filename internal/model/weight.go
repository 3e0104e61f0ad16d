package model

import (
	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// WeightingScheme selects how repeat-sale pairs are weighted.
type WeightingScheme string

const (
	SchemeEqual       WeightingScheme = "equal"
	SchemeValue       WeightingScheme = "value"
	SchemeCaseShiller WeightingScheme = "case_shiller"
	SchemeBMN         WeightingScheme = "bmn"
)

// ParseScheme converts a configuration string into a WeightingScheme.
func ParseScheme(s string) (WeightingScheme, error) {
	switch ws := WeightingScheme(s); ws {
	case SchemeEqual, SchemeValue, SchemeCaseShiller, SchemeBMN:
		return ws, nil
	default:
		return "", calcerr.Validation("weights", s, "unknown weighting scheme %q", s)
	}
}

// WeightCalculation holds the weights of one pair. EqualWeight is always 1;
// scheme weights that were not computed are zero.
type WeightCalculation struct {
	PairID             string  `json:"pair_id"`
	PropertyID         string  `json:"property_id"`
	EqualWeight        float64 `json:"equal_weight"`
	ValueWeight        float64 `json:"value_weight,omitempty"`
	CaseShillerWeight  float64 `json:"case_shiller_weight,omitempty"`
	BMNWeight          float64 `json:"bmn_weight,omitempty"`
	AveragePrice       float64 `json:"average_price"`
	PriceVariance      float64 `json:"price_variance,omitempty"`
	HoldingPeriodYears float64 `json:"holding_period_years"`
	QualityAdjustment  float64 `json:"quality_adjustment"`
	OutlierFlag        bool    `json:"outlier_flag"`
}

// Weight returns the raw weight for a scheme.
func (w WeightCalculation) Weight(scheme WeightingScheme) float64 {
	switch scheme {
	case SchemeValue:
		return w.ValueWeight
	case SchemeCaseShiller:
		return w.CaseShillerWeight
	case SchemeBMN:
		return w.BMNWeight
	default:
		return w.EqualWeight
	}
}

// Effective returns the regression weight for a scheme: the scheme weight
// scaled by the pair's quality adjustment.
func (w WeightCalculation) Effective(scheme WeightingScheme) float64 {
	return w.Weight(scheme) * w.QualityAdjustment
}

// Validate checks the weight invariants.
func (w WeightCalculation) Validate() error {
	if w.EqualWeight != 1.0 {
		return calcerr.Validation("weights", w.PairID, "equal weight must be 1.0, got %v", w.EqualWeight)
	}
	if w.ValueWeight < 0 || w.CaseShillerWeight < 0 || w.BMNWeight < 0 {
		return calcerr.Validation("weights", w.PairID, "weights must be non-negative")
	}
	if w.QualityAdjustment <= 0 || w.QualityAdjustment > 1 {
		return calcerr.Validation("weights", w.PairID, "quality adjustment %v outside (0, 1]", w.QualityAdjustment)
	}
	return nil
}
