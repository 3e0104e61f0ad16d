// Package store persists the inputs and outputs of index calculation:
// transactions, tracts, supertract definitions, index series, revisions and
// job records. SQLite serves local runs and tests; Postgres serves shared
// deployments.
package store

import (
	"context"

	"github.com/sells-group/rsai-cli/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Kind   model.JobKind   `json:"kind,omitempty"`
	Key    string          `json:"key,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// SeriesKey identifies a stored index series.
type SeriesKey struct {
	GeographyID string
	Scheme      model.WeightingScheme
	Frequency   model.Frequency
}

// Store defines the persistence interface for the index pipeline.
type Store interface {
	// Transactions
	SaveTransactions(ctx context.Context, txns []model.Transaction) (int64, error)
	ListTransactions(ctx context.Context, cbsaID string) ([]model.Transaction, error)

	// Tracts
	SaveTracts(ctx context.Context, tracts []model.GeographicUnit) (int64, error)
	ListTracts(ctx context.Context, cbsaID string) ([]model.GeographicUnit, error)

	// Supertracts replace the stored set for a CBSA.
	SaveSupertracts(ctx context.Context, cbsaID string, defs []model.SupertractDefinition) error
	ListSupertracts(ctx context.Context, cbsaID string) ([]model.SupertractDefinition, error)

	// Index series. GetIndexSeries returns nil, nil when the series does not exist.
	SaveIndexSeries(ctx context.Context, series model.IndexTimeSeries) error
	GetIndexSeries(ctx context.Context, key SeriesKey) (*model.IndexTimeSeries, error)
	SaveRevisions(ctx context.Context, revs []model.IndexRevision) error
	ListRevisions(ctx context.Context, geographyID string) ([]model.IndexRevision, error)

	// Jobs. GetJob returns nil, nil for an unknown id.
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// periodKeys renders periods for JSON columns.
func periodKeys(periods []model.Period) []string {
	keys := make([]string, len(periods))
	for i, p := range periods {
		keys[i] = p.Key()
	}
	return keys
}

func parsePeriodKeys(keys []string) ([]model.Period, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]model.Period, len(keys))
	for i, k := range keys {
		p, err := model.ParsePeriod(k)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// tractAttrs returns the tract attributes of u, or an empty set for units
// built without them.
func tractAttrs(u model.GeographicUnit) model.TractAttributes {
	if u.Tract == nil {
		return model.TractAttributes{}
	}
	return *u.Tract
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
