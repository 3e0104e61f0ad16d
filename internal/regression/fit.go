// Package regression fits the Bailey-Muth-Nourse repeat-sales model.
package regression

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// minStandardError keeps t-statistics finite when a coefficient is exact.
const minStandardError = 1e-12

// Estimate is the numeric solution of one weighted BMN fit. Periods[0] is
// the base period; its coefficient and standard error are zero.
type Estimate struct {
	Periods        []model.Period
	Coefficients   []float64
	StandardErrors []float64
	TStatistics    []float64
	PValues        []float64
	PeriodCounts   []int

	// Per used pair, in input order.
	Used         []int
	Residuals    []float64
	HoldingYears []float64

	NumObservations  int
	DegreesOfFreedom int
	SSR              float64
	RSquared         float64
	AdjustedRSquared float64
	FStatistic       float64
	DurbinWatson     float64
	ResidualStdError float64
}

// Fit solves the weighted least-squares BMN system. Each pair contributes a
// row with -1 at the first sale's period and +1 at the second sale's period;
// the base period column is dropped. Pairs outside the periods or with both
// sales in one period are skipped. A nil weights slice means equal weights.
func Fit(pairs []model.RepeatSalePair, weights []float64, periods []model.Period) (*Estimate, error) {
	if err := checkPeriods(periods); err != nil {
		return nil, err
	}
	if weights != nil && len(weights) != len(pairs) {
		return nil, calcerr.Validation("regression", "", "%d weights for %d pairs", len(weights), len(pairs))
	}

	freq := periods[0].Frequency
	index := make(map[int64]int, len(periods))
	for i, p := range periods {
		index[p.Start.Unix()] = i
	}

	type row struct {
		pair   int
		first  int
		second int
		weight float64
	}
	rows := make([]row, 0, len(pairs))
	for i, p := range pairs {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, calcerr.Validation("regression", p.ID, "weight %v must be finite and non-negative", w)
		}
		if w == 0 {
			continue
		}
		a, okA := index[model.PeriodOf(p.FirstSaleDate, freq).Start.Unix()]
		b, okB := index[model.PeriodOf(p.SecondSaleDate, freq).Start.Unix()]
		if !okA || !okB || a == b {
			continue
		}
		rows = append(rows, row{pair: i, first: a, second: b, weight: w})
	}

	n, k := len(rows), len(periods)-1
	df := n - k
	if df <= 0 {
		return nil, calcerr.Convergence("regression", "",
			"%d usable pairs for %d periods leaves %d degrees of freedom", n, len(periods), df)
	}

	x := mat.NewDense(n, k, nil)
	xw := mat.NewDense(n, k, nil)
	y := mat.NewVecDense(n, nil)
	yw := mat.NewVecDense(n, nil)
	counts := make([]int, len(periods))
	for r, rw := range rows {
		sw := math.Sqrt(rw.weight)
		if rw.first > 0 {
			x.Set(r, rw.first-1, -1)
			xw.Set(r, rw.first-1, -sw)
		}
		if rw.second > 0 {
			x.Set(r, rw.second-1, 1)
			xw.Set(r, rw.second-1, sw)
		}
		ly := pairs[rw.pair].LogPriceRatio
		y.SetVec(r, ly)
		yw.SetVec(r, sw*ly)
		counts[rw.first]++
		counts[rw.second]++
	}

	var qr mat.QR
	qr.Factorize(xw)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, yw); err != nil {
		return nil, calcerr.Convergence("regression", "", "design matrix is singular: %v", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	resid := make([]float64, n)
	var ssr, sumW, sumWY float64
	for r, rw := range rows {
		resid[r] = y.AtVec(r) - fitted.AtVec(r)
		ssr += rw.weight * resid[r] * resid[r]
		sumW += rw.weight
		sumWY += rw.weight * y.AtVec(r)
	}
	sigma2 := ssr / float64(df)

	var xtx mat.SymDense
	xtx.SymOuterK(1, xw.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, calcerr.Convergence("regression", "", "normal matrix is not positive definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, calcerr.Convergence("regression", "", "invert normal matrix: %v", err)
	}

	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	est := &Estimate{
		Periods:          append([]model.Period(nil), periods...),
		Coefficients:     make([]float64, len(periods)),
		StandardErrors:   make([]float64, len(periods)),
		TStatistics:      make([]float64, len(periods)),
		PValues:          make([]float64, len(periods)),
		PeriodCounts:     counts,
		Used:             make([]int, n),
		Residuals:        resid,
		HoldingYears:     make([]float64, n),
		NumObservations:  n,
		DegreesOfFreedom: df,
		SSR:              ssr,
		ResidualStdError: math.Sqrt(sigma2),
	}
	est.PValues[0] = 1
	for j := 0; j < k; j++ {
		b := beta.AtVec(j)
		se := math.Sqrt(math.Max(0, sigma2*inv.At(j, j)))
		t := b / math.Max(se, minStandardError)
		p := 2 * (1 - tdist.CDF(math.Abs(t)))
		est.Coefficients[j+1] = b
		est.StandardErrors[j+1] = se
		est.TStatistics[j+1] = t
		est.PValues[j+1] = clamp01(p)
	}
	for r, rw := range rows {
		est.Used[r] = rw.pair
		est.HoldingYears[r] = pairs[rw.pair].HoldingPeriodYears
	}

	meanY := sumWY / sumW
	var sst float64
	for r, rw := range rows {
		d := y.AtVec(r) - meanY
		sst += rw.weight * d * d
	}
	switch {
	case sst > 0:
		est.RSquared = clamp01(1 - ssr/sst)
	case ssr == 0:
		est.RSquared = 1
	}
	if n > 1 {
		est.AdjustedRSquared = clamp01(1 - (1-est.RSquared)*float64(n-1)/float64(df))
	}
	if est.RSquared < 1 {
		est.FStatistic = (est.RSquared / float64(k)) / ((1 - est.RSquared) / float64(df))
	}
	est.DurbinWatson = durbinWatson(pairs, est)
	return est, nil
}

func checkPeriods(periods []model.Period) error {
	if len(periods) < 2 {
		return calcerr.Validation("regression", "", "at least two periods are required, got %d", len(periods))
	}
	freq := periods[0].Frequency
	if !freq.Valid() {
		return calcerr.Validation("regression", "", "unknown frequency %q", freq)
	}
	for i := 1; i < len(periods); i++ {
		if periods[i].Frequency != freq {
			return calcerr.Validation("regression", periods[i].Key(), "mixed period frequencies")
		}
		if !periods[i].Start.After(periods[i-1].Start) {
			return calcerr.Validation("regression", periods[i].Key(), "periods must be strictly increasing")
		}
	}
	return nil
}

// durbinWatson orders residuals by second sale date, then first sale date,
// then pair id. A perfect fit reports 2.
func durbinWatson(pairs []model.RepeatSalePair, est *Estimate) float64 {
	order := make([]int, len(est.Used))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := pairs[est.Used[order[a]]], pairs[est.Used[order[b]]]
		if !pa.SecondSaleDate.Equal(pb.SecondSaleDate) {
			return pa.SecondSaleDate.Before(pb.SecondSaleDate)
		}
		if !pa.FirstSaleDate.Equal(pb.FirstSaleDate) {
			return pa.FirstSaleDate.Before(pb.FirstSaleDate)
		}
		return pa.ID < pb.ID
	})

	var num, den float64
	for i, r := range order {
		e := est.Residuals[r]
		den += e * e
		if i > 0 {
			d := e - est.Residuals[order[i-1]]
			num += d * d
		}
	}
	if den == 0 {
		return 2
	}
	return num / den
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
