// Package pairs derives repeat-sale pairs from transaction histories.
package pairs

import (
	"sort"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// Exclusion reasons reported in BuildResult.Excluded.
const (
	ReasonTransactionType = "transaction_type"
	ReasonHoldingPeriod   = "holding_period"
	ReasonPriceRatio      = "price_ratio"
)

// BuildOptions configures Build. Assignments maps tract id to the current
// supertract id; a nil map leaves SupertractID empty.
type BuildOptions struct {
	Rules       Rules
	Assignments map[string]string
}

// BuildResult is the output of Build.
type BuildResult struct {
	Pairs        []model.RepeatSalePair `json:"pairs"`
	Transactions int                    `json:"transactions"`
	Properties   int                    `json:"properties"`
	Excluded     map[string]int         `json:"excluded"`
}

// Build pairs each sale with the previous sale of the same property. Only
// consecutive sales are paired, so a history of n sales yields at most n-1
// pairs. A pair touching an excluded sale is dropped and no pair spans it.
func Build(transactions []model.Transaction, opts BuildOptions) (*BuildResult, error) {
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}

	byProperty := make(map[string][]model.Transaction)
	seen := make(map[string]struct{}, len(transactions))
	for _, t := range transactions {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[t.ID]; dup {
			return nil, calcerr.Validation("pairs", t.ID, "duplicate transaction id")
		}
		seen[t.ID] = struct{}{}
		byProperty[t.PropertyID] = append(byProperty[t.PropertyID], t)
	}

	properties := make([]string, 0, len(byProperty))
	for id := range byProperty {
		properties = append(properties, id)
	}
	sort.Strings(properties)

	minDays := max(1, opts.Rules.MinHoldingDays)
	res := &BuildResult{
		Transactions: len(transactions),
		Properties:   len(byProperty),
		Excluded:     map[string]int{},
	}
	for _, id := range properties {
		history := byProperty[id]
		sort.Slice(history, func(i, j int) bool {
			if !history[i].SaleDate.Equal(history[j].SaleDate) {
				return history[i].SaleDate.Before(history[j].SaleDate)
			}
			return history[i].ID < history[j].ID
		})

		for i := 1; i < len(history); i++ {
			first, second := history[i-1], history[i]
			if opts.Rules.excludes(first) || opts.Rules.excludes(second) {
				res.Excluded[ReasonTransactionType]++
				continue
			}
			p := model.NewRepeatSalePair(first, second)
			if p.HoldingPeriodDays < minDays {
				res.Excluded[ReasonHoldingPeriod]++
				continue
			}
			if (opts.Rules.MinPriceRatio > 0 && p.PriceRatio < opts.Rules.MinPriceRatio) ||
				(opts.Rules.MaxPriceRatio > 0 && p.PriceRatio > opts.Rules.MaxPriceRatio) {
				res.Excluded[ReasonPriceRatio]++
				continue
			}
			if opts.Assignments != nil {
				p.SupertractID = opts.Assignments[p.TractID]
			}
			if err := p.Validate(); err != nil {
				return nil, err
			}
			res.Pairs = append(res.Pairs, p)
		}
	}
	return res, nil
}

// Assign reclassifies pairs against a new tract to supertract mapping.
// Pairs whose tract is not assigned are dropped and counted.
func Assign(pairs []model.RepeatSalePair, assignments map[string]string) ([]model.RepeatSalePair, int) {
	out := make([]model.RepeatSalePair, 0, len(pairs))
	dropped := 0
	for _, p := range pairs {
		st, ok := assignments[p.TractID]
		if !ok || st == "" {
			dropped++
			continue
		}
		out = append(out, p.Reclassify(st))
	}
	return out, dropped
}

// GroupBySupertract buckets assigned pairs by supertract id.
func GroupBySupertract(pairs []model.RepeatSalePair) map[string][]model.RepeatSalePair {
	out := make(map[string][]model.RepeatSalePair)
	for _, p := range pairs {
		if p.SupertractID != "" {
			out[p.SupertractID] = append(out[p.SupertractID], p)
		}
	}
	return out
}

// TractCounts holds the observation counts of one tract.
type TractCounts struct {
	RepeatPairs  int `json:"repeat_pairs"`
	Transactions int `json:"transactions"`
	Properties   int `json:"properties"`
}

// CountByTract tallies pairs, sales and distinct properties per tract.
func CountByTract(pairs []model.RepeatSalePair, transactions []model.Transaction) map[string]TractCounts {
	out := make(map[string]TractCounts)
	props := make(map[string]map[string]struct{})
	for _, t := range transactions {
		c := out[t.TractID]
		c.Transactions++
		out[t.TractID] = c
		if props[t.TractID] == nil {
			props[t.TractID] = make(map[string]struct{})
		}
		props[t.TractID][t.PropertyID] = struct{}{}
	}
	for tract, set := range props {
		c := out[tract]
		c.Properties = len(set)
		out[tract] = c
	}
	for _, p := range pairs {
		c := out[p.TractID]
		c.RepeatPairs++
		out[p.TractID] = c
	}
	return out
}

// ApplyCounts returns copies of the tract units with observation counts set.
// Tracts with no observations get zero counts.
func ApplyCounts(tracts []model.GeographicUnit, counts map[string]TractCounts) []model.GeographicUnit {
	out := make([]model.GeographicUnit, len(tracts))
	for i, t := range tracts {
		c := counts[t.ID]
		t.RepeatSalesCount = c.RepeatPairs
		t.TransactionCount = c.Transactions
		t.PropertyCount = c.Properties
		out[i] = t
	}
	return out
}
