package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sells-group/rsai-cli/internal/geo"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/pairs"
	"github.com/sells-group/rsai-cli/internal/store"
	"github.com/sells-group/rsai-cli/internal/weights"
)

const testCBSA = "47900"

var trueLogIndex = []float64{0, 0.02, 0.05, 0.07}

func quarterStarts() []time.Time {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, len(trueLogIndex))
	for i := range out {
		out[i] = start.AddDate(0, 3*i, 0)
	}
	return out
}

// market returns two sales per property, linking every ordered pair of
// quarters five times in each tract. Log price ratios follow trueLogIndex
// with a small repeating perturbation.
func market(cbsaID string, tractIDs ...string) []model.Transaction {
	starts := quarterStarts()
	var out []model.Transaction
	for _, tract := range tractIDs {
		for a := 0; a < len(starts); a++ {
			for b := a + 1; b < len(starts); b++ {
				for rep := 0; rep < 5; rep++ {
					e := 0.01 * float64(rep%3-1)
					prop := fmt.Sprintf("%s-p%d%d%d", tract, a, b, rep)
					first := model.Transaction{
						ID:         prop + "-1",
						PropertyID: prop,
						SaleDate:   starts[a].AddDate(0, 0, 10+rep),
						Price:      200_000,
						TractID:    tract,
						CBSAID:     cbsaID,
					}
					second := first
					second.ID = prop + "-2"
					second.SaleDate = starts[b].AddDate(0, 0, 10+rep)
					second.Price = 200_000 * math.Exp(trueLogIndex[b]-trueLogIndex[a]+e)
					out = append(out, first, second)
				}
			}
		}
	}
	return out
}

// spreadMarket is market with each property's two sales in the same month
// of their quarters, cycling through the three months. At monthly
// frequency the months only link to months of the same position, so the
// periods split into three unconnected groups.
func spreadMarket(cbsaID string, tractIDs ...string) []model.Transaction {
	starts := quarterStarts()
	var out []model.Transaction
	for _, tract := range tractIDs {
		for a := 0; a < len(starts); a++ {
			for b := a + 1; b < len(starts); b++ {
				for rep := 0; rep < 5; rep++ {
					e := 0.01 * float64(rep%3-1)
					prop := fmt.Sprintf("%s-s%d%d%d", tract, a, b, rep)
					first := model.Transaction{
						ID:         prop + "-1",
						PropertyID: prop,
						SaleDate:   starts[a].AddDate(0, rep%3, 10),
						Price:      200_000,
						TractID:    tract,
						CBSAID:     cbsaID,
					}
					second := first
					second.ID = prop + "-2"
					second.SaleDate = starts[b].AddDate(0, rep%3, 10)
					second.Price = 200_000 * math.Exp(trueLogIndex[b]-trueLogIndex[a]+e)
					out = append(out, first, second)
				}
			}
		}
	}
	return out
}

func tracts(cbsaID string) []model.GeographicUnit {
	return []model.GeographicUnit{
		model.NewTract("11001000100", cbsaID, 38.90, -77.03, model.TractAttributes{TractCode: "000100", CountyFIPS: "11001", StateFIPS: "11"}),
		model.NewTract("11001000200", cbsaID, 38.92, -77.01, model.TractAttributes{TractCode: "000200", CountyFIPS: "11001", StateFIPS: "11"}),
	}
}

func testOptions() Options {
	st := geo.DefaultSupertractOptions()
	st.MinObservations = 25
	return Options{
		Supertracts:      st,
		Rules:            pairs.DefaultRules(),
		Scheme:           model.SchemeEqual,
		Weights:          weights.DefaultParams(),
		Frequency:        model.FrequencyQuarterly,
		BaseValue:        100,
		Concurrency:      2,
		BatchConcurrency: 2,
	}
}

// fakeStore is an in-memory Store keyed by CBSA.
type fakeStore struct {
	mu          sync.Mutex
	txns        map[string][]model.Transaction
	tracts      map[string][]model.GeographicUnit
	supertracts map[string][]model.SupertractDefinition
	series      map[store.SeriesKey]model.IndexTimeSeries
	revisions   []model.IndexRevision

	listErr error
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txns:        make(map[string][]model.Transaction),
		tracts:      make(map[string][]model.GeographicUnit),
		supertracts: make(map[string][]model.SupertractDefinition),
		series:      make(map[store.SeriesKey]model.IndexTimeSeries),
	}
}

func (f *fakeStore) seed(cbsaID string) {
	ts := tracts(cbsaID)
	f.txns[cbsaID] = market(cbsaID, ts[0].ID, ts[1].ID)
	f.tracts[cbsaID] = ts
}

func (f *fakeStore) ListTransactions(_ context.Context, cbsaID string) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.txns[cbsaID], nil
}

func (f *fakeStore) ListTracts(_ context.Context, cbsaID string) ([]model.GeographicUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracts[cbsaID], nil
}

func (f *fakeStore) SaveSupertracts(_ context.Context, cbsaID string, defs []model.SupertractDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.supertracts[cbsaID] = defs
	return nil
}

func (f *fakeStore) SaveIndexSeries(_ context.Context, s model.IndexTimeSeries) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.series[store.SeriesKey{GeographyID: s.GeographyID, Scheme: s.Scheme, Frequency: s.Frequency}] = s
	return nil
}

func (f *fakeStore) GetIndexSeries(_ context.Context, key store.SeriesKey) (*model.IndexTimeSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) SaveRevisions(_ context.Context, revs []model.IndexRevision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revisions = append(f.revisions, revs...)
	return nil
}
