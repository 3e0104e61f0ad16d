package regression

import (
	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// CheckDesign reports whether pairs can identify a coefficient for every
// period before any fit is attempted. Pairs with both sales in one period
// carry no information. The remaining pairs must outnumber the free
// coefficients, and the periods they link must form a single connected
// chain back to the base period; otherwise the design matrix is singular.
func CheckDesign(supertractID string, pairs []model.RepeatSalePair, periods []model.Period) error {
	if len(periods) < 2 {
		return calcerr.InsufficientData("regression", supertractID, "%d periods, need at least 2", len(periods))
	}
	freq := periods[0].Frequency
	index := make(map[int64]int, len(periods))
	for i, p := range periods {
		index[p.Start.Unix()] = i
	}

	parent := make([]int, len(periods))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	usable := 0
	components := len(periods)
	for _, p := range pairs {
		a, okA := index[model.PeriodOf(p.FirstSaleDate, freq).Start.Unix()]
		b, okB := index[model.PeriodOf(p.SecondSaleDate, freq).Start.Unix()]
		if !okA || !okB || a == b {
			continue
		}
		usable++
		if ra, rb := find(a), find(b); ra != rb {
			parent[ra] = rb
			components--
		}
	}

	if free := len(periods) - 1; usable <= free {
		return calcerr.InsufficientData("regression", supertractID,
			"%d usable pairs for %d %s periods, need more than %d", usable, len(periods), freq, free)
	}
	if components > 1 {
		return calcerr.InsufficientData("regression", supertractID,
			"%d %s periods fall into %d unlinked groups", len(periods), freq, components)
	}
	return nil
}
