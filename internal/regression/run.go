package regression

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// Output is the product of one regression run. Estimate is nil when the run failed.
type Output struct {
	Run      model.RegressionRun      `json:"run"`
	Results  []model.RegressionResult `json:"results,omitempty"`
	Estimate *Estimate                `json:"-"`
}

// Run fits the BMN model for one supertract and reports one result per
// period. The run moves from pending through running to completed, or to
// failed when the fit is singular; on failure the output still carries the
// failed run record.
func Run(supertractID string, pairs []model.RepeatSalePair, weights []float64, periods []model.Period) (*Output, error) {
	out := &Output{Run: model.RegressionRun{
		ID:           uuid.NewString(),
		SupertractID: supertractID,
		Status:       model.RunStatusPending,
		NumPeriods:   len(periods),
	}}
	if err := out.Run.Start(time.Now().UTC()); err != nil {
		return out, err
	}

	est, err := Fit(pairs, weights, periods)
	if err != nil {
		err = withEntity(err, supertractID)
		out.Run.Fail(time.Now().UTC(), err)
		return out, err
	}
	out.Estimate = est
	out.Run.NumObservations = est.NumObservations
	out.Results = Results(supertractID, est)
	for _, r := range out.Results {
		if verr := r.Validate(); verr != nil {
			out.Run.Fail(time.Now().UTC(), verr)
			return out, eris.Wrap(verr, "regression: result out of range")
		}
	}
	if err := out.Run.Complete(time.Now().UTC()); err != nil {
		return out, err
	}
	return out, nil
}

// Results converts an estimate into per-period records. The base period is
// reported with a zero coefficient and a p-value of one.
func Results(supertractID string, est *Estimate) []model.RegressionResult {
	out := make([]model.RegressionResult, len(est.Periods))
	for i, p := range est.Periods {
		out[i] = model.RegressionResult{
			SupertractID:     supertractID,
			Period:           p,
			TimeCoefficient:  est.Coefficients[i],
			StandardError:    est.StandardErrors[i],
			TStatistic:       est.TStatistics[i],
			PValue:           est.PValues[i],
			RSquared:         est.RSquared,
			AdjustedRSquared: est.AdjustedRSquared,
			FStatistic:       est.FStatistic,
			NumObservations:  est.NumObservations,
			DegreesOfFreedom: est.DegreesOfFreedom,
			DurbinWatson:     est.DurbinWatson,
			ResidualStdError: est.ResidualStdError,
			IsBase:           i == 0,
		}
	}
	return out
}

// ActivePeriods returns the periods of freq spanned by the pairs that hold
// at least one sale. Empty periods are left out so they do not make the
// design matrix singular.
func ActivePeriods(pairs []model.RepeatSalePair, freq model.Frequency) []model.Period {
	if len(pairs) == 0 {
		return nil
	}
	first, last := pairs[0].FirstSaleDate, pairs[0].SecondSaleDate
	active := make(map[int64]bool)
	for _, p := range pairs {
		if p.FirstSaleDate.Before(first) {
			first = p.FirstSaleDate
		}
		if p.SecondSaleDate.After(last) {
			last = p.SecondSaleDate
		}
		active[model.PeriodOf(p.FirstSaleDate, freq).Start.Unix()] = true
		active[model.PeriodOf(p.SecondSaleDate, freq).Start.Unix()] = true
	}
	var out []model.Period
	for _, p := range model.PeriodRange(freq, first, last) {
		if active[p.Start.Unix()] {
			out = append(out, p)
		}
	}
	return out
}

// BucketVariance is the residual variance of a fit grouped by holding period.
type BucketVariance struct {
	WidthYears float64         `json:"width_years"`
	ByBucket   map[int]float64 `json:"by_bucket"`
	Overall    float64         `json:"overall"`
}

// minVariance floors bucket variances so their inverses stay finite.
const minVariance = 1e-8

// BucketVariances groups squared residuals into holding-period buckets of
// widthYears and averages each bucket.
func BucketVariances(est *Estimate, widthYears float64) BucketVariance {
	if widthYears <= 0 {
		widthYears = 1
	}
	sums := make(map[int]float64)
	counts := make(map[int]int)
	var total float64
	for i, e := range est.Residuals {
		b := bucketOf(est.HoldingYears[i], widthYears)
		sums[b] += e * e
		counts[b]++
		total += e * e
	}
	bv := BucketVariance{WidthYears: widthYears, ByBucket: make(map[int]float64, len(sums))}
	for b, s := range sums {
		bv.ByBucket[b] = math.Max(minVariance, s/float64(counts[b]))
	}
	if len(est.Residuals) > 0 {
		bv.Overall = math.Max(minVariance, total/float64(len(est.Residuals)))
	} else {
		bv.Overall = minVariance
	}
	return bv
}

// For returns the variance of the bucket holding years falls in, or the
// overall variance when that bucket had no observations.
func (b BucketVariance) For(years float64) float64 {
	if v, ok := b.ByBucket[bucketOf(years, b.WidthYears)]; ok {
		return v
	}
	return b.Overall
}

func bucketOf(years, width float64) int {
	return int(math.Floor(years / width))
}

// withEntity attaches the supertract id to classified errors that lack one.
func withEntity(err error, id string) error {
	var ce *calcerr.Error
	if errors.As(err, &ce) && ce.EntityID == "" {
		cp := *ce
		cp.EntityID = id
		return &cp
	}
	return err
}
