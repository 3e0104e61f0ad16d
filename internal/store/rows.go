package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rsai-cli/internal/model"
)

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func marshalSupertract(d model.SupertractDefinition) (tractsJSON, paramsJSON []byte, err error) {
	tractsJSON, err = json.Marshal(d.TractIDs)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: marshal tract ids for %s", d.ID)
	}
	params := d.Parameters
	if params == nil {
		params = map[string]float64{}
	}
	paramsJSON, err = json.Marshal(params)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: marshal parameters for %s", d.ID)
	}
	return tractsJSON, paramsJSON, nil
}

func unmarshalSupertract(d *model.SupertractDefinition, tractsJSON, paramsJSON []byte) error {
	if err := json.Unmarshal(tractsJSON, &d.TractIDs); err != nil {
		return eris.Wrapf(err, "store: unmarshal tract ids for %s", d.ID)
	}
	if err := json.Unmarshal(paramsJSON, &d.Parameters); err != nil {
		return eris.Wrapf(err, "store: unmarshal parameters for %s", d.ID)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return nil
}

// indexValueRows flattens a series into index_values rows. Missing
// standard errors and pair counts become NULL.
func indexValueRows(s model.IndexTimeSeries) [][]any {
	rows := make([][]any, len(s.Values))
	for i, v := range s.Values {
		var se, pairs any
		if s.StandardErrors != nil {
			se = s.StandardErrors[i]
		}
		if s.NumPairs != nil {
			pairs = s.NumPairs[i]
		}
		rows[i] = []any{s.GeographyID, string(s.Scheme), string(s.Frequency), s.Periods[i].Key(), v, se, pairs}
	}
	return rows
}

// seriesBuilder collects index_values rows back into parallel slices.
type seriesBuilder struct {
	periods []model.Period
	values  []float64
	ses     []float64
	pairs   []int
	hasSE   bool
	hasN    bool
}

func (b *seriesBuilder) add(periodKey string, value, se float64, seValid bool, pairs int, pairsValid bool) error {
	p, err := model.ParsePeriod(periodKey)
	if err != nil {
		return eris.Wrapf(err, "store: parse period %q", periodKey)
	}
	b.periods = append(b.periods, p)
	b.values = append(b.values, value)
	b.ses = append(b.ses, se)
	b.pairs = append(b.pairs, pairs)
	b.hasSE = b.hasSE || seValid
	b.hasN = b.hasN || pairsValid
	return nil
}

func (b *seriesBuilder) fill(s *model.IndexTimeSeries) {
	s.Periods = b.periods
	s.Values = b.values
	if b.hasSE {
		s.StandardErrors = b.ses
	}
	if b.hasN {
		s.NumPairs = b.pairs
	}
	s.CreatedAt = s.CreatedAt.UTC()
}

func fillRevision(r *model.IndexRevision, scheme, period string, affectedJSON []byte) error {
	r.Scheme = model.WeightingScheme(scheme)
	p, err := model.ParsePeriod(period)
	if err != nil {
		return eris.Wrapf(err, "store: parse revision period %q", period)
	}
	r.Period = p
	var keys []string
	if err := json.Unmarshal(affectedJSON, &keys); err != nil {
		return eris.Wrap(err, "store: unmarshal affected periods")
	}
	if r.AffectedPeriods, err = parsePeriodKeys(keys); err != nil {
		return eris.Wrap(err, "store: parse affected periods")
	}
	r.RevisedAt = r.RevisedAt.UTC()
	return nil
}
