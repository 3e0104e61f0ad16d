package index

import (
	"math"
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// Rebase scales every value so that period reads value. Growth rates are
// unchanged. The input series is not modified.
func Rebase(series model.IndexTimeSeries, period model.Period, value float64) (model.IndexTimeSeries, error) {
	if err := series.Validate(); err != nil {
		return model.IndexTimeSeries{}, err
	}
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return model.IndexTimeSeries{}, calcerr.Validation("rebase", series.GeographyID, "base value %v must be positive and finite", value)
	}
	i := series.IndexOf(period)
	if i < 0 {
		return model.IndexTimeSeries{}, calcerr.Validation("rebase", series.GeographyID, "period %s is not in the series", period)
	}

	factor := value / series.Values[i]
	out := series.Clone()
	for j := range out.Values {
		out.Values[j] *= factor
	}
	for j := range out.StandardErrors {
		out.StandardErrors[j] *= factor
	}
	out.Values[i] = value
	out.BasePeriod = series.Periods[i]
	out.BaseValue = value
	out.CreatedAt = time.Now().UTC()
	return out, nil
}
