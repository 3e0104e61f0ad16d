package index

import (
	"math"
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// MinRevision is the smallest change in index points reported as a revision.
const MinRevision = 1e-6

// Revise replaces the value at period and reports the change. Amount and
// percentage are always derived from the two values.
func Revise(series model.IndexTimeSeries, period model.Period, value float64, reason string) (model.IndexTimeSeries, model.IndexRevision, error) {
	if err := series.Validate(); err != nil {
		return model.IndexTimeSeries{}, model.IndexRevision{}, err
	}
	i := series.IndexOf(period)
	if i < 0 {
		return model.IndexTimeSeries{}, model.IndexRevision{}, calcerr.Validation("revision", series.GeographyID, "period %s is not in the series", period)
	}
	rev := model.NewRevision(series.GeographyID, series.Periods[i], series.Scheme, series.Values[i], value, reason)
	rev.AffectedPeriods = []model.Period{series.Periods[i]}
	rev.RevisedAt = time.Now().UTC()
	if err := rev.Validate(); err != nil {
		return model.IndexTimeSeries{}, model.IndexRevision{}, err
	}
	out := series.Clone()
	out.Values[i] = value
	return out, rev, nil
}

// DetectRevisions compares a previously published series with its
// recalculation and returns one revision per shared period whose value
// moved. Every revision lists all periods revised in the same pass.
func DetectRevisions(previous, revised model.IndexTimeSeries, reason string) ([]model.IndexRevision, error) {
	if err := previous.Validate(); err != nil {
		return nil, err
	}
	if err := revised.Validate(); err != nil {
		return nil, err
	}
	if previous.GeographyID != revised.GeographyID {
		return nil, calcerr.Validation("revision", revised.GeographyID, "geography differs from published %s", previous.GeographyID)
	}
	if previous.Scheme != revised.Scheme || previous.Frequency != revised.Frequency {
		return nil, calcerr.Validation("revision", revised.GeographyID, "scheme or frequency differs from the published series")
	}

	now := time.Now().UTC()
	var out []model.IndexRevision
	var affected []model.Period
	for i, p := range previous.Periods {
		v, ok := revised.ValueAt(p)
		if !ok || math.Abs(v-previous.Values[i]) < MinRevision {
			continue
		}
		rev := model.NewRevision(previous.GeographyID, p, previous.Scheme, previous.Values[i], v, reason)
		rev.RevisedAt = now
		if err := rev.Validate(); err != nil {
			return nil, err
		}
		out = append(out, rev)
		affected = append(affected, p)
	}
	for i := range out {
		out[i].AffectedPeriods = affected
	}
	return out, nil
}
