package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool. Tract centroids are also
// kept as PostGIS points for spatial queries outside the pipeline.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_job": `INSERT INTO jobs (id, kind, job_key, status, params, result, error, created_at, started_at, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"update_job": `UPDATE jobs SET status = $1, result = $2, error = $3, started_at = $4, completed_at = $5 WHERE id = $6`,
	"get_job":    `SELECT id, kind, job_key, status, params, result, error, created_at, started_at, completed_at FROM jobs WHERE id = $1`,
	"get_series": `SELECT geography_level, base_period, base_value, created_at FROM index_series WHERE geography_id = $1 AND scheme = $2 AND frequency = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = min(minConns, maxConns)
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool Pool, closeFn func()) *PostgresStore {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("store.postgres", "write")
	return &PostgresStore{pool: pool, closeFn: closeFn, retry: cfg}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	property_id      TEXT NOT NULL,
	sale_date        DATE NOT NULL,
	price            DOUBLE PRECISION NOT NULL CHECK (price > 0),
	transaction_type TEXT NOT NULL DEFAULT 'arms_length',
	property_type    TEXT NOT NULL DEFAULT '',
	tract_id         TEXT NOT NULL,
	cbsa_id          TEXT NOT NULL,
	county_fips      TEXT NOT NULL DEFAULT '',
	state_code       TEXT NOT NULL DEFAULT '',
	zip_code         TEXT NOT NULL DEFAULT '',
	data_source      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_transactions_cbsa ON transactions(cbsa_id);
CREATE INDEX IF NOT EXISTS idx_transactions_property ON transactions(property_id, sale_date);

CREATE TABLE IF NOT EXISTS tracts (
	tract_id                TEXT PRIMARY KEY,
	cbsa_id                 TEXT NOT NULL,
	name                    TEXT NOT NULL DEFAULT '',
	latitude                DOUBLE PRECISION NOT NULL,
	longitude               DOUBLE PRECISION NOT NULL,
	tract_code              TEXT NOT NULL DEFAULT '',
	county_fips             TEXT NOT NULL DEFAULT '',
	state_fips              TEXT NOT NULL DEFAULT '',
	total_area_sqkm         DOUBLE PRECISION NOT NULL DEFAULT 0,
	population              BIGINT NOT NULL DEFAULT 0,
	housing_units           BIGINT NOT NULL DEFAULT 0,
	median_household_income DOUBLE PRECISION NOT NULL DEFAULT 0,
	median_home_value       DOUBLE PRECISION NOT NULL DEFAULT 0,
	centroid                geometry(Point, 4326)
);

CREATE INDEX IF NOT EXISTS idx_tracts_cbsa ON tracts(cbsa_id);
CREATE INDEX IF NOT EXISTS idx_tracts_centroid ON tracts USING GIST (centroid);

CREATE TABLE IF NOT EXISTS supertracts (
	id                 TEXT PRIMARY KEY,
	cbsa_id            TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	tract_ids          JSONB NOT NULL,
	method             TEXT NOT NULL,
	parameters         JSONB NOT NULL DEFAULT '{}',
	min_observations   INTEGER NOT NULL,
	total_transactions INTEGER NOT NULL,
	total_properties   INTEGER NOT NULL,
	total_repeat_pairs INTEGER NOT NULL,
	centroid_latitude  DOUBLE PRECISION NOT NULL,
	centroid_longitude DOUBLE PRECISION NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_supertracts_cbsa ON supertracts(cbsa_id);

CREATE TABLE IF NOT EXISTS index_series (
	geography_id    TEXT NOT NULL,
	scheme          TEXT NOT NULL,
	frequency       TEXT NOT NULL,
	geography_level TEXT NOT NULL,
	base_period     TEXT NOT NULL,
	base_value      DOUBLE PRECISION NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (geography_id, scheme, frequency)
);

CREATE TABLE IF NOT EXISTS index_values (
	geography_id   TEXT NOT NULL,
	scheme         TEXT NOT NULL,
	frequency      TEXT NOT NULL,
	period         TEXT NOT NULL,
	value          DOUBLE PRECISION NOT NULL CHECK (value > 0),
	standard_error DOUBLE PRECISION,
	num_pairs      INTEGER,
	PRIMARY KEY (geography_id, scheme, frequency, period)
);

CREATE TABLE IF NOT EXISTS index_revisions (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	geography_id        TEXT NOT NULL,
	scheme              TEXT NOT NULL,
	period              TEXT NOT NULL,
	previous_value      DOUBLE PRECISION NOT NULL,
	revised_value       DOUBLE PRECISION NOT NULL,
	revision_amount     DOUBLE PRECISION NOT NULL,
	revision_percentage DOUBLE PRECISION NOT NULL,
	reason              TEXT NOT NULL DEFAULT '',
	affected_periods    JSONB NOT NULL DEFAULT '[]',
	revised_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_index_revisions_geo ON index_revisions(geography_id, revised_at);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind         TEXT NOT NULL,
	job_key      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	params       JSONB,
	result       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_kind_key ON jobs(kind, job_key);
`

var (
	transactionColumns = []string{
		"id", "property_id", "sale_date", "price", "transaction_type", "property_type",
		"tract_id", "cbsa_id", "county_fips", "state_code", "zip_code", "data_source",
	}
	tractColumns = []string{
		"tract_id", "cbsa_id", "name", "latitude", "longitude", "tract_code", "county_fips", "state_fips",
		"total_area_sqkm", "population", "housing_units", "median_household_income", "median_home_value",
		"centroid",
	}
	supertractColumns = []string{
		"id", "cbsa_id", "name", "tract_ids", "method", "parameters", "min_observations",
		"total_transactions", "total_properties", "total_repeat_pairs", "centroid_latitude",
		"centroid_longitude", "created_at",
	}
	indexValueColumns = []string{
		"geography_id", "scheme", "frequency", "period", "value", "standard_error", "num_pairs",
	}
	revisionColumns = []string{
		"id", "geography_id", "scheme", "period", "previous_value", "revised_value", "revision_amount",
		"revision_percentage", "reason", "affected_periods", "revised_at",
	}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// withRetry runs a write, retrying dropped connections and serialization
// failures.
func (s *PostgresStore) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Do(ctx, s.retry, fn)
}

// inTx runs fn in a transaction with retry on transient failures.
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return eris.Wrapf(err, "postgres: begin %s", op)
		}
		defer tx.Rollback(ctx) //nolint:errcheck
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return eris.Wrapf(tx.Commit(ctx), "postgres: commit %s", op)
	})
}

func (s *PostgresStore) SaveTransactions(ctx context.Context, txns []model.Transaction) (int64, error) {
	rows := make([][]any, len(txns))
	for i, t := range txns {
		rows[i] = []any{
			t.ID, t.PropertyID, t.SaleDate.UTC(), t.Price, string(t.Type()), string(t.PropertyType),
			t.TractID, t.CBSAID, t.CountyFIPS, t.StateCode, t.ZipCode, t.DataSource,
		}
	}
	return s.upsert(ctx, transactionsTable, rows)
}

func (s *PostgresStore) upsert(ctx context.Context, k keyedTable, rows [][]any) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		n, err = bulkUpsert(ctx, s.pool, k, rows)
		return err
	})
	if err != nil {
		return 0, err
	}
	zap.L().Debug("postgres: upserted rows",
		zap.String("component", "store.postgres"),
		zap.String("table", k.name),
		zap.Int64("rows", n),
	)
	return n, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, cbsaID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, property_id, sale_date, price, transaction_type, property_type, tract_id, cbsa_id,
		        county_fips, state_code, zip_code, data_source
		 FROM transactions WHERE cbsa_id = $1 ORDER BY property_id, sale_date, id`,
		cbsaID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transactions")
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan transaction")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transactions iterate")
}

// centroidEWKB encodes a tract centroid as an SRID 4326 point.
func centroidEWKB(u model.GeographicUnit) ([]byte, error) {
	pt := geom.NewPointFlat(geom.XY, []float64{u.Longitude, u.Latitude}).SetSRID(4326)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: encode centroid for %s", u.ID)
	}
	return data, nil
}

func (s *PostgresStore) SaveTracts(ctx context.Context, tracts []model.GeographicUnit) (int64, error) {
	rows := make([][]any, 0, len(tracts))
	for _, u := range tracts {
		centroid, err := centroidEWKB(u)
		if err != nil {
			return 0, err
		}
		a := tractAttrs(u)
		rows = append(rows, []any{
			u.ID, u.ParentID, u.Name, u.Latitude, u.Longitude, a.TractCode, a.CountyFIPS, a.StateFIPS,
			u.TotalAreaSqKm, u.Population, u.HousingUnits, a.MedianHouseholdIncome, a.MedianHomeValue,
			centroid,
		})
	}
	return s.upsert(ctx, tractsTable, rows)
}

func (s *PostgresStore) ListTracts(ctx context.Context, cbsaID string) ([]model.GeographicUnit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tract_id, cbsa_id, name, latitude, longitude, tract_code, county_fips, state_fips,
		        total_area_sqkm, population, housing_units, median_household_income, median_home_value
		 FROM tracts WHERE cbsa_id = $1 ORDER BY tract_id`,
		cbsaID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tracts")
	}
	defer rows.Close()

	var out []model.GeographicUnit
	for rows.Next() {
		u, err := scanTract(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan tract")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tracts iterate")
}

func (s *PostgresStore) SaveSupertracts(ctx context.Context, cbsaID string, defs []model.SupertractDefinition) error {
	rows := make([][]any, 0, len(defs))
	for _, d := range defs {
		tractsJSON, paramsJSON, err := marshalSupertract(d)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			d.ID, cbsaID, d.Name, tractsJSON, d.Method, paramsJSON, d.MinObservations,
			d.TotalTransactions, d.TotalProperties, d.TotalRepeatPairs, d.CentroidLatitude,
			d.CentroidLongitude, createdAt(d.CreatedAt),
		})
	}
	return s.inTx(ctx, "save supertracts", func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM supertracts WHERE cbsa_id = $1`, cbsaID); err != nil {
			return eris.Wrapf(err, "postgres: clear supertracts for %s", cbsaID)
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"supertracts"}, supertractColumns, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrapf(err, "postgres: copy supertracts for %s", cbsaID)
		}
		return nil
	})
}

func (s *PostgresStore) ListSupertracts(ctx context.Context, cbsaID string) ([]model.SupertractDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cbsa_id, name, tract_ids, method, parameters, min_observations, total_transactions,
		        total_properties, total_repeat_pairs, centroid_latitude, centroid_longitude, created_at
		 FROM supertracts WHERE cbsa_id = $1 ORDER BY id`,
		cbsaID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list supertracts")
	}
	defer rows.Close()

	var out []model.SupertractDefinition
	for rows.Next() {
		var d model.SupertractDefinition
		var tractsJSON, paramsJSON []byte
		if err := rows.Scan(&d.ID, &d.CBSAID, &d.Name, &tractsJSON, &d.Method, &paramsJSON, &d.MinObservations,
			&d.TotalTransactions, &d.TotalProperties, &d.TotalRepeatPairs, &d.CentroidLatitude,
			&d.CentroidLongitude, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan supertract")
		}
		if err := unmarshalSupertract(&d, tractsJSON, paramsJSON); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list supertracts iterate")
}

func (s *PostgresStore) SaveIndexSeries(ctx context.Context, series model.IndexTimeSeries) error {
	if err := series.Validate(); err != nil {
		return err
	}
	rows := indexValueRows(series)
	return s.inTx(ctx, "save index series", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO index_series (geography_id, scheme, frequency, geography_level, base_period, base_value, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (geography_id, scheme, frequency) DO UPDATE SET
			 	geography_level = $4, base_period = $5, base_value = $6, created_at = $7`,
			series.GeographyID, string(series.Scheme), string(series.Frequency), string(series.GeographyLevel),
			series.BasePeriod.Key(), series.BaseValue, createdAt(series.CreatedAt),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert index series %s", series.GeographyID)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM index_values WHERE geography_id = $1 AND scheme = $2 AND frequency = $3`,
			series.GeographyID, string(series.Scheme), string(series.Frequency),
		); err != nil {
			return eris.Wrapf(err, "postgres: clear index values %s", series.GeographyID)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"index_values"}, indexValueColumns, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrapf(err, "postgres: copy index values %s", series.GeographyID)
		}
		return nil
	})
}

func (s *PostgresStore) GetIndexSeries(ctx context.Context, key SeriesKey) (*model.IndexTimeSeries, error) {
	series := model.IndexTimeSeries{
		GeographyID: key.GeographyID,
		Scheme:      key.Scheme,
		Frequency:   key.Frequency,
	}
	var level, basePeriod string
	err := s.pool.QueryRow(ctx,
		`SELECT geography_level, base_period, base_value, created_at FROM index_series WHERE geography_id = $1 AND scheme = $2 AND frequency = $3`,
		key.GeographyID, string(key.Scheme), string(key.Frequency),
	).Scan(&level, &basePeriod, &series.BaseValue, &series.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get index series")
	}
	series.GeographyLevel = model.GeographicLevel(level)
	if series.BasePeriod, err = model.ParsePeriod(basePeriod); err != nil {
		return nil, eris.Wrap(err, "postgres: parse base period")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT period, value, standard_error, num_pairs FROM index_values
		 WHERE geography_id = $1 AND scheme = $2 AND frequency = $3 ORDER BY period`,
		key.GeographyID, string(key.Scheme), string(key.Frequency),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list index values")
	}
	defer rows.Close()

	var b seriesBuilder
	for rows.Next() {
		var period string
		var value float64
		var se *float64
		var pairs *int
		if err := rows.Scan(&period, &value, &se, &pairs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan index value")
		}
		var seVal float64
		var pairsVal int
		if se != nil {
			seVal = *se
		}
		if pairs != nil {
			pairsVal = *pairs
		}
		if err := b.add(period, value, seVal, se != nil, pairsVal, pairs != nil); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list index values iterate")
	}
	b.fill(&series)
	return &series, nil
}

func (s *PostgresStore) SaveRevisions(ctx context.Context, revs []model.IndexRevision) error {
	rows := make([][]any, 0, len(revs))
	for _, r := range revs {
		affected, err := json.Marshal(periodKeys(r.AffectedPeriods))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal affected periods")
		}
		rows = append(rows, []any{
			uuid.New().String(), r.GeographyID, string(r.Scheme), r.Period.Key(), r.PreviousValue,
			r.RevisedValue, r.RevisionAmount, r.RevisionPercentage, r.Reason, affected, createdAt(r.RevisedAt),
		})
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := copyRows(ctx, s.pool, "index_revisions", revisionColumns, rows)
		return err
	})
}

func (s *PostgresStore) ListRevisions(ctx context.Context, geographyID string) ([]model.IndexRevision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geography_id, scheme, period, previous_value, revised_value, revision_amount,
		        revision_percentage, reason, affected_periods, revised_at
		 FROM index_revisions WHERE geography_id = $1 ORDER BY revised_at, period`,
		geographyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list revisions")
	}
	defer rows.Close()

	var out []model.IndexRevision
	for rows.Next() {
		var r model.IndexRevision
		var scheme, period string
		var affected []byte
		if err := rows.Scan(&r.GeographyID, &scheme, &period, &r.PreviousValue, &r.RevisedValue,
			&r.RevisionAmount, &r.RevisionPercentage, &r.Reason, &affected, &r.RevisedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan revision")
		}
		if err := fillRevision(&r, scheme, period, affected); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list revisions iterate")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO jobs (id, kind, job_key, status, params, result, error, created_at, started_at, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			job.ID, string(job.Kind), job.Key, string(job.Status), rawOrNil(job.Params), rawOrNil(job.Result),
			job.Error, job.CreatedAt, job.StartedAt, job.CompletedAt,
		)
		return eris.Wrapf(err, "postgres: insert job %s", job.ID)
	})
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, result = $2, error = $3, started_at = $4, completed_at = $5 WHERE id = $6`,
			string(job.Status), rawOrNil(job.Result), job.Error, job.StartedAt, job.CompletedAt, job.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update job %s", job.ID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("job not found: %s", job.ID)
		}
		return nil
	})
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx,
		`SELECT id, kind, job_key, status, params, result, error, created_at, started_at, completed_at FROM jobs WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, kind, job_key, status, params, result, error, created_at, started_at, completed_at FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Key != "" {
		query += fmt.Sprintf(` AND job_key = $%d`, argIdx)
		args = append(args, filter.Key)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func scanPgJob(row scannable) (*model.Job, error) {
	var j model.Job
	var kind, status string
	var params, result []byte
	if err := row.Scan(&j.ID, &kind, &j.Key, &status, &params, &result, &j.Error, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	if len(params) > 0 {
		j.Params = json.RawMessage(params)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

// rawOrNil maps an empty raw message to NULL for JSONB columns.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
