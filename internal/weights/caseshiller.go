package weights

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/regression"
	"github.com/sells-group/rsai-cli/internal/resilience"
)

// varianceFloorShare floors the fitted variance at this share of the mean
// squared residual so no single pair takes over the fit.
const varianceFloorShare = 0.05

// stage2Retry re-runs ill-conditioned variance fits straight away; each
// attempt adds more ridge to the slope.
func stage2Retry() resilience.RetryConfig {
	cfg := resilience.ImmediateRetryConfig(3, calcerr.IsNumerical)
	cfg.OnRetry = resilience.RetryLogger("weights", "case_shiller_variance")
	return cfg
}

// varianceModel is the fitted dispersion e^2 = a + b*years.
type varianceModel struct {
	intercept float64
	slope     float64
}

// caseShiller runs the iterated three-stage procedure: fit, model squared
// residuals against holding years, reweight by the inverse fitted variance,
// and repeat until the weights stop moving.
func caseShiller(ctx context.Context, pairs []model.RepeatSalePair, base []model.WeightCalculation, params Params) ([]float64, error) {
	log := zap.L().With(zap.String("component", "weights.case_shiller"))
	periods := params.periods(pairs)

	years := make([]float64, len(pairs))
	for i, p := range pairs {
		years[i] = p.HoldingPeriodYears
	}
	w := make([]float64, len(pairs))
	for i := range w {
		w[i] = 1
	}
	eff := make([]float64, len(pairs))

	for iter := 1; iter <= params.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, calcerr.Cancelled("weights", "", err)
		}
		for i := range w {
			eff[i] = w[i] * base[i].QualityAdjustment
		}
		est, err := regression.Fit(pairs, eff, periods)
		if err != nil {
			return nil, err
		}

		usedYears := make([]float64, len(est.Used))
		sq := make([]float64, len(est.Used))
		for j, idx := range est.Used {
			usedYears[j] = years[idx]
			sq[j] = est.Residuals[j] * est.Residuals[j]
		}

		attempt := 0
		vm, err := resilience.DoVal(ctx, stage2Retry(), func(context.Context) (varianceModel, error) {
			ridge := 0.0
			if attempt > 0 {
				ridge = math.Pow(10, float64(attempt)-7)
			}
			attempt++
			return fitVariance(usedYears, sq, ridge)
		})
		if err != nil {
			return nil, calcerr.Convergence("weights", "", "variance model: %v", err)
		}

		floor := math.Max(1e-8, varianceFloorShare*stat.Mean(sq, nil))
		next := make([]float64, len(pairs))
		for i, y := range years {
			next[i] = 1 / math.Max(floor, vm.intercept+vm.slope*y)
		}
		next = normalise(next)

		delta := floats.Distance(next, w, math.Inf(1))
		w = next
		log.Debug("case-shiller iteration",
			zap.Int("iteration", iter),
			zap.Float64("max_change", delta),
			zap.Float64("intercept", vm.intercept),
			zap.Float64("slope", vm.slope),
		)
		if delta < params.Tolerance {
			log.Info("case-shiller weights converged", zap.Int("iterations", iter), zap.Int("pairs", len(pairs)))
			return w, nil
		}
	}
	return nil, calcerr.Convergence("weights", "", "case-shiller weights did not converge in %d iterations", params.MaxIterations)
}

// fitVariance regresses squared residuals on holding years. With ridge > 0
// the slope is shrunk by ridge times the mean squared holding period, which
// keeps the fit defined when every pair has the same holding period.
func fitVariance(years, sq []float64, ridge float64) (varianceModel, error) {
	if len(years) == 0 {
		return varianceModel{}, calcerr.Numerical(eris.New("no residuals"))
	}
	if ridge == 0 {
		a, b := stat.LinearRegression(years, sq, nil, false)
		if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
			return varianceModel{}, calcerr.Numerical(eris.New("degenerate holding periods"))
		}
		return varianceModel{intercept: a, slope: b}, nil
	}

	mx, my := stat.Mean(years, nil), stat.Mean(sq, nil)
	var sxx, sxy, sx2 float64
	for i, x := range years {
		sxx += (x - mx) * (x - mx)
		sxy += (x - mx) * (sq[i] - my)
		sx2 += x * x
	}
	b := sxy / (sxx + ridge*sx2)
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return varianceModel{}, calcerr.Numerical(eris.New("ridge variance fit is not finite"))
	}
	return varianceModel{intercept: my - b*mx, slope: b}, nil
}
