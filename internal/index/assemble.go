// Package index turns regression coefficients into published index series
// and derives rebased series, revisions, benchmarks and comparisons from them.
package index

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// SupertractResults are the per-period results of one supertract's run.
type SupertractResults struct {
	SupertractID string                   `json:"supertract_id"`
	Results      []model.RegressionResult `json:"results"`
}

// observations is the weight of the group in the cross-supertract average.
func (g SupertractResults) observations() int {
	if len(g.Results) == 0 {
		return 0
	}
	return g.Results[0].NumObservations
}

// AssembleOptions configures Assemble. A zero BasePeriod selects the
// earliest period; a zero BaseValue selects model.DefaultBaseValue.
type AssembleOptions struct {
	GeographyID    string
	GeographyLevel model.GeographicLevel
	Scheme         model.WeightingScheme
	BasePeriod     model.Period
	BaseValue      float64
}

type point struct {
	coef float64
	se   float64
}

// anchored is a supertract placed on the index scale. Its level at a period
// is scale * exp(coef - anchor.coef), relative to the base period.
type anchored struct {
	weight    float64
	anchorKey int64
	anchor    point
	scale     float64
	points    map[int64]point
}

// level is the observation-weighted relative level at period k over the
// anchored supertracts that observed it.
func level(usable []anchored, k int64) (float64, bool) {
	var sumW, sumRel float64
	for _, a := range usable {
		pt, ok := a.points[k]
		if !ok {
			continue
		}
		sumW += a.weight
		sumRel += a.weight * a.scale * math.Exp(pt.coef-a.anchor.coef)
	}
	if sumW == 0 {
		return 0, false
	}
	return sumRel / sumW, true
}

// link anchors points at the earliest period it shares with usable.
func link(usable []anchored, ordered []model.Period, points map[int64]point, weight float64) (anchored, bool) {
	for _, p := range ordered {
		k := p.Start.Unix()
		pt, ok := points[k]
		if !ok {
			continue
		}
		lvl, ok := level(usable, k)
		if !ok {
			continue
		}
		return anchored{weight: weight, anchorKey: k, anchor: pt, scale: lvl, points: points}, true
	}
	return anchored{}, false
}

// Assemble averages the exponentiated coefficients of every supertract per
// period, weighting each supertract by its observation count, and anchors
// the result so the base period equals the base value. A supertract that did
// not observe the base period is chain-linked: it is scaled to the combined
// level at the first period it shares with the supertracts already anchored.
// A supertract that shares no period with them fails the assembly. Standard
// errors follow the delta method and treat supertracts as independent.
func Assemble(groups []SupertractResults, opts AssembleOptions) (*model.IndexTimeSeries, error) {
	log := zap.L().With(zap.String("component", "index.assemble"), zap.String("geography_id", opts.GeographyID))

	if opts.GeographyID == "" {
		return nil, calcerr.Validation("index", "", "geography id is required")
	}
	if opts.BaseValue == 0 {
		opts.BaseValue = model.DefaultBaseValue
	}
	if opts.BaseValue < 0 || math.IsNaN(opts.BaseValue) || math.IsInf(opts.BaseValue, 0) {
		return nil, calcerr.Validation("index", opts.GeographyID, "base value %v must be positive", opts.BaseValue)
	}
	if opts.GeographyLevel == "" {
		opts.GeographyLevel = model.LevelCBSA
	}

	var freq model.Frequency
	byGroup := make([]map[int64]point, len(groups))
	periods := make(map[int64]model.Period)
	for gi, g := range groups {
		byGroup[gi] = make(map[int64]point, len(g.Results))
		for _, r := range g.Results {
			if freq == "" {
				freq = r.Period.Frequency
			}
			if r.Period.Frequency != freq {
				return nil, calcerr.Validation("index", g.SupertractID, "mixed frequencies %s and %s", freq, r.Period.Frequency)
			}
			if math.IsNaN(r.TimeCoefficient) || math.IsInf(r.TimeCoefficient, 0) {
				return nil, calcerr.Validation("index", g.SupertractID, "coefficient at %s is not finite", r.Period)
			}
			k := r.Period.Start.Unix()
			byGroup[gi][k] = point{coef: r.TimeCoefficient, se: r.StandardError}
			periods[k] = r.Period
		}
	}
	if len(periods) == 0 {
		return nil, calcerr.InsufficientData("index", opts.GeographyID, "no regression results to assemble")
	}

	ordered := make([]model.Period, 0, len(periods))
	for _, p := range periods {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start.Before(ordered[j].Start) })

	base := opts.BasePeriod
	if base.Start.IsZero() {
		base = ordered[0]
	}
	baseKey := base.Start.Unix()
	if _, ok := periods[baseKey]; !ok {
		return nil, calcerr.Validation("index", opts.GeographyID, "base period %s has no regression results", base)
	}
	base = periods[baseKey]

	var usable []anchored
	var pending []int
	for gi, g := range groups {
		if g.observations() <= 0 || len(byGroup[gi]) == 0 {
			continue
		}
		bp, ok := byGroup[gi][baseKey]
		if !ok {
			pending = append(pending, gi)
			continue
		}
		usable = append(usable, anchored{
			weight:    float64(g.observations()),
			anchorKey: baseKey,
			anchor:    bp,
			scale:     1,
			points:    byGroup[gi],
		})
	}
	if len(usable) == 0 {
		return nil, calcerr.InsufficientData("index", opts.GeographyID, "no supertract observed base period %s", base)
	}

	// Link the remaining supertracts in rounds: each round anchors every
	// pending supertract that overlaps the current coverage.
	linked := 0
	for len(pending) > 0 {
		var next []int
		progress := false
		for _, gi := range pending {
			a, ok := link(usable, ordered, byGroup[gi], float64(groups[gi].observations()))
			if !ok {
				next = append(next, gi)
				continue
			}
			usable = append(usable, a)
			linked++
			progress = true
			log.Debug("supertract chain-linked",
				zap.String("supertract_id", groups[gi].SupertractID),
				zap.Time("link_period", time.Unix(a.anchorKey, 0).UTC()),
			)
		}
		if !progress {
			return nil, calcerr.InsufficientData("index", groups[next[0]].SupertractID,
				"supertract shares no period with the index anchored at %s", base)
		}
		pending = next
	}

	series := &model.IndexTimeSeries{
		GeographyID:    opts.GeographyID,
		GeographyLevel: opts.GeographyLevel,
		Scheme:         opts.Scheme,
		Frequency:      freq,
		BasePeriod:     base,
		BaseValue:      opts.BaseValue,
		CreatedAt:      time.Now().UTC(),
	}
	for _, p := range ordered {
		k := p.Start.Unix()
		var sumW, sumRel, sumVar float64
		var n int
		for _, a := range usable {
			pt, ok := a.points[k]
			if !ok {
				continue
			}
			rel := a.scale * math.Exp(pt.coef-a.anchor.coef)
			v := 0.0
			if k != a.anchorKey {
				v = rel * rel * (pt.se*pt.se + a.anchor.se*a.anchor.se)
			}
			sumW += a.weight
			sumRel += a.weight * rel
			sumVar += a.weight * a.weight * v
			n += int(a.weight)
		}
		if sumW == 0 {
			continue
		}
		series.Periods = append(series.Periods, p)
		series.Values = append(series.Values, opts.BaseValue*sumRel/sumW)
		series.StandardErrors = append(series.StandardErrors, opts.BaseValue*math.Sqrt(sumVar)/sumW)
		series.NumPairs = append(series.NumPairs, n)
	}

	if err := series.Validate(); err != nil {
		return nil, err
	}
	log.Info("index assembled",
		zap.Int("supertracts", len(usable)),
		zap.Int("chain_linked", linked),
		zap.Int("periods", len(series.Periods)),
		zap.String("base_period", base.Key()),
	)
	return series, nil
}
