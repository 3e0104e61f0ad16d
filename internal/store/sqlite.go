package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/rsai-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	property_id      TEXT NOT NULL,
	sale_date        DATETIME NOT NULL,
	price            REAL NOT NULL,
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
	latitude                REAL NOT NULL,
	longitude               REAL NOT NULL,
	tract_code              TEXT NOT NULL DEFAULT '',
	county_fips             TEXT NOT NULL DEFAULT '',
	state_fips              TEXT NOT NULL DEFAULT '',
	total_area_sqkm         REAL NOT NULL DEFAULT 0,
	population              INTEGER NOT NULL DEFAULT 0,
	housing_units           INTEGER NOT NULL DEFAULT 0,
	median_household_income REAL NOT NULL DEFAULT 0,
	median_home_value       REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tracts_cbsa ON tracts(cbsa_id);

CREATE TABLE IF NOT EXISTS supertracts (
	id                 TEXT PRIMARY KEY,
	cbsa_id            TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	tract_ids          TEXT NOT NULL,
	method             TEXT NOT NULL,
	parameters         TEXT NOT NULL DEFAULT '{}',
	min_observations   INTEGER NOT NULL,
	total_transactions INTEGER NOT NULL,
	total_properties   INTEGER NOT NULL,
	total_repeat_pairs INTEGER NOT NULL,
	centroid_latitude  REAL NOT NULL,
	centroid_longitude REAL NOT NULL,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_supertracts_cbsa ON supertracts(cbsa_id);

CREATE TABLE IF NOT EXISTS index_series (
	geography_id    TEXT NOT NULL,
	scheme          TEXT NOT NULL,
	frequency       TEXT NOT NULL,
	geography_level TEXT NOT NULL,
	base_period     TEXT NOT NULL,
	base_value      REAL NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (geography_id, scheme, frequency)
);

CREATE TABLE IF NOT EXISTS index_values (
	geography_id   TEXT NOT NULL,
	scheme         TEXT NOT NULL,
	frequency      TEXT NOT NULL,
	period         TEXT NOT NULL,
	value          REAL NOT NULL,
	standard_error REAL,
	num_pairs      INTEGER,
	PRIMARY KEY (geography_id, scheme, frequency, period)
);

CREATE TABLE IF NOT EXISTS index_revisions (
	id                  TEXT PRIMARY KEY,
	geography_id        TEXT NOT NULL,
	scheme              TEXT NOT NULL,
	period              TEXT NOT NULL,
	previous_value      REAL NOT NULL,
	revised_value       REAL NOT NULL,
	revision_amount     REAL NOT NULL,
	revision_percentage REAL NOT NULL,
	reason              TEXT NOT NULL DEFAULT '',
	affected_periods    TEXT NOT NULL DEFAULT '[]',
	revised_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_index_revisions_geo ON index_revisions(geography_id, revised_at);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	job_key      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	params       TEXT,
	result       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at   DATETIME,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_kind_key ON jobs(kind, job_key);
`

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate creates the schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing only when fn succeeds.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", op)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", op)
}

func (s *SQLiteStore) SaveTransactions(ctx context.Context, txns []model.Transaction) (int64, error) {
	if len(txns) == 0 {
		return 0, nil
	}
	var n int64
	err := s.inTx(ctx, "save transactions", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions
			(id, property_id, sale_date, price, transaction_type, property_type, tract_id, cbsa_id, county_fips, state_code, zip_code, data_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				property_id = excluded.property_id, sale_date = excluded.sale_date, price = excluded.price,
				transaction_type = excluded.transaction_type, property_type = excluded.property_type,
				tract_id = excluded.tract_id, cbsa_id = excluded.cbsa_id, county_fips = excluded.county_fips,
				state_code = excluded.state_code, zip_code = excluded.zip_code, data_source = excluded.data_source`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare transaction insert")
		}
		defer stmt.Close()

		for _, t := range txns {
			if _, err := stmt.ExecContext(ctx,
				t.ID, t.PropertyID, t.SaleDate.UTC(), t.Price, string(t.Type()), string(t.PropertyType),
				t.TractID, t.CBSAID, t.CountyFIPS, t.StateCode, t.ZipCode, t.DataSource,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert transaction %s", t.ID)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, cbsaID string) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, property_id, sale_date, price, transaction_type, property_type, tract_id, cbsa_id,
		        county_fips, state_code, zip_code, data_source
		 FROM transactions WHERE cbsa_id = ? ORDER BY property_id, sale_date, id`,
		cbsaID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transactions")
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transaction")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transactions iterate")
}

func (s *SQLiteStore) SaveTracts(ctx context.Context, tracts []model.GeographicUnit) (int64, error) {
	if len(tracts) == 0 {
		return 0, nil
	}
	var n int64
	err := s.inTx(ctx, "save tracts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO tracts
			(tract_id, cbsa_id, name, latitude, longitude, tract_code, county_fips, state_fips,
			 total_area_sqkm, population, housing_units, median_household_income, median_home_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tract_id) DO UPDATE SET
				cbsa_id = excluded.cbsa_id, name = excluded.name, latitude = excluded.latitude,
				longitude = excluded.longitude, tract_code = excluded.tract_code,
				county_fips = excluded.county_fips, state_fips = excluded.state_fips,
				total_area_sqkm = excluded.total_area_sqkm, population = excluded.population,
				housing_units = excluded.housing_units,
				median_household_income = excluded.median_household_income,
				median_home_value = excluded.median_home_value`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare tract insert")
		}
		defer stmt.Close()

		for _, u := range tracts {
			a := tractAttrs(u)
			if _, err := stmt.ExecContext(ctx,
				u.ID, u.ParentID, u.Name, u.Latitude, u.Longitude, a.TractCode, a.CountyFIPS, a.StateFIPS,
				u.TotalAreaSqKm, u.Population, u.HousingUnits, a.MedianHouseholdIncome, a.MedianHomeValue,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert tract %s", u.ID)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) ListTracts(ctx context.Context, cbsaID string) ([]model.GeographicUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tract_id, cbsa_id, name, latitude, longitude, tract_code, county_fips, state_fips,
		        total_area_sqkm, population, housing_units, median_household_income, median_home_value
		 FROM tracts WHERE cbsa_id = ? ORDER BY tract_id`,
		cbsaID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tracts")
	}
	defer rows.Close()

	var out []model.GeographicUnit
	for rows.Next() {
		u, err := scanTract(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tract")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tracts iterate")
}

func (s *SQLiteStore) SaveSupertracts(ctx context.Context, cbsaID string, defs []model.SupertractDefinition) error {
	return s.inTx(ctx, "save supertracts", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM supertracts WHERE cbsa_id = ?`, cbsaID); err != nil {
			return eris.Wrapf(err, "sqlite: clear supertracts for %s", cbsaID)
		}
		for _, d := range defs {
			tractsJSON, paramsJSON, err := marshalSupertract(d)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO supertracts
				(id, cbsa_id, name, tract_ids, method, parameters, min_observations, total_transactions,
				 total_properties, total_repeat_pairs, centroid_latitude, centroid_longitude, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, cbsaID, d.Name, string(tractsJSON), d.Method, string(paramsJSON), d.MinObservations,
				d.TotalTransactions, d.TotalProperties, d.TotalRepeatPairs, d.CentroidLatitude,
				d.CentroidLongitude, createdAt(d.CreatedAt),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert supertract %s", d.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListSupertracts(ctx context.Context, cbsaID string) ([]model.SupertractDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cbsa_id, name, tract_ids, method, parameters, min_observations, total_transactions,
		        total_properties, total_repeat_pairs, centroid_latitude, centroid_longitude, created_at
		 FROM supertracts WHERE cbsa_id = ? ORDER BY id`,
		cbsaID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list supertracts")
	}
	defer rows.Close()

	var out []model.SupertractDefinition
	for rows.Next() {
		var d model.SupertractDefinition
		var tractsJSON, paramsJSON string
		if err := rows.Scan(&d.ID, &d.CBSAID, &d.Name, &tractsJSON, &d.Method, &paramsJSON, &d.MinObservations,
			&d.TotalTransactions, &d.TotalProperties, &d.TotalRepeatPairs, &d.CentroidLatitude,
			&d.CentroidLongitude, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan supertract")
		}
		if err := unmarshalSupertract(&d, []byte(tractsJSON), []byte(paramsJSON)); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list supertracts iterate")
}

func (s *SQLiteStore) SaveIndexSeries(ctx context.Context, series model.IndexTimeSeries) error {
	if err := series.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, "save index series", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO index_series
			(geography_id, scheme, frequency, geography_level, base_period, base_value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (geography_id, scheme, frequency) DO UPDATE SET
				geography_level = excluded.geography_level, base_period = excluded.base_period,
				base_value = excluded.base_value, created_at = excluded.created_at`,
			series.GeographyID, string(series.Scheme), string(series.Frequency), string(series.GeographyLevel),
			series.BasePeriod.Key(), series.BaseValue, createdAt(series.CreatedAt),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert index series %s", series.GeographyID)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM index_values WHERE geography_id = ? AND scheme = ? AND frequency = ?`,
			series.GeographyID, string(series.Scheme), string(series.Frequency),
		); err != nil {
			return eris.Wrapf(err, "sqlite: clear index values %s", series.GeographyID)
		}
		for _, row := range indexValueRows(series) {
			if _, err := tx.ExecContext(ctx, `INSERT INTO index_values
				(geography_id, scheme, frequency, period, value, standard_error, num_pairs)
				VALUES (?, ?, ?, ?, ?, ?, ?)`, row...); err != nil {
				return eris.Wrapf(err, "sqlite: insert index value %s", series.GeographyID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetIndexSeries(ctx context.Context, key SeriesKey) (*model.IndexTimeSeries, error) {
	series := model.IndexTimeSeries{
		GeographyID: key.GeographyID,
		Scheme:      key.Scheme,
		Frequency:   key.Frequency,
	}
	var level, basePeriod string
	err := s.db.QueryRowContext(ctx,
		`SELECT geography_level, base_period, base_value, created_at FROM index_series
		 WHERE geography_id = ? AND scheme = ? AND frequency = ?`,
		key.GeographyID, string(key.Scheme), string(key.Frequency),
	).Scan(&level, &basePeriod, &series.BaseValue, &series.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get index series")
	}
	series.GeographyLevel = model.GeographicLevel(level)
	if series.BasePeriod, err = model.ParsePeriod(basePeriod); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse base period")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT period, value, standard_error, num_pairs FROM index_values
		 WHERE geography_id = ? AND scheme = ? AND frequency = ? ORDER BY period`,
		key.GeographyID, string(key.Scheme), string(key.Frequency),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list index values")
	}
	defer rows.Close()

	var b seriesBuilder
	for rows.Next() {
		var period string
		var value float64
		var se sql.NullFloat64
		var pairs sql.NullInt64
		if err := rows.Scan(&period, &value, &se, &pairs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan index value")
		}
		if err := b.add(period, value, se.Float64, se.Valid, int(pairs.Int64), pairs.Valid); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list index values iterate")
	}
	b.fill(&series)
	return &series, nil
}

func (s *SQLiteStore) SaveRevisions(ctx context.Context, revs []model.IndexRevision) error {
	if len(revs) == 0 {
		return nil
	}
	return s.inTx(ctx, "save revisions", func(tx *sql.Tx) error {
		for _, r := range revs {
			affected, err := json.Marshal(periodKeys(r.AffectedPeriods))
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal affected periods")
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO index_revisions
				(id, geography_id, scheme, period, previous_value, revised_value, revision_amount,
				 revision_percentage, reason, affected_periods, revised_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), r.GeographyID, string(r.Scheme), r.Period.Key(), r.PreviousValue,
				r.RevisedValue, r.RevisionAmount, r.RevisionPercentage, r.Reason, string(affected),
				createdAt(r.RevisedAt),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert revision %s@%s", r.GeographyID, r.Period)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListRevisions(ctx context.Context, geographyID string) ([]model.IndexRevision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geography_id, scheme, period, previous_value, revised_value, revision_amount,
		        revision_percentage, reason, affected_periods, revised_at
		 FROM index_revisions WHERE geography_id = ? ORDER BY revised_at, period`,
		geographyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list revisions")
	}
	defer rows.Close()

	var out []model.IndexRevision
	for rows.Next() {
		var r model.IndexRevision
		var scheme, period, affected string
		if err := rows.Scan(&r.GeographyID, &scheme, &period, &r.PreviousValue, &r.RevisedValue,
			&r.RevisionAmount, &r.RevisionPercentage, &r.Reason, &affected, &r.RevisedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan revision")
		}
		if err := fillRevision(&r, scheme, period, []byte(affected)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list revisions iterate")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, job_key, status, params, result, error, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.Key, string(job.Status), nullJSON(job.Params), nullJSON(job.Result),
		job.Error, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, error = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		string(job.Status), nullJSON(job.Result), job.Error, job.StartedAt, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, job_key, status, params, result, error, created_at, started_at, completed_at
		 FROM jobs WHERE id = ?`,
		id,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, kind, job_key, status, params, result, error, created_at, started_at, completed_at
		FROM jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Key != "" {
		query += ` AND job_key = ?`
		args = append(args, filter.Key)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTransaction(row scannable) (model.Transaction, error) {
	var t model.Transaction
	var txType, propType string
	err := row.Scan(&t.ID, &t.PropertyID, &t.SaleDate, &t.Price, &txType, &propType, &t.TractID, &t.CBSAID,
		&t.CountyFIPS, &t.StateCode, &t.ZipCode, &t.DataSource)
	t.TransactionType = model.TransactionType(txType)
	t.PropertyType = model.PropertyType(propType)
	t.SaleDate = t.SaleDate.UTC()
	return t, err
}

func scanTract(row scannable) (model.GeographicUnit, error) {
	var u model.GeographicUnit
	var a model.TractAttributes
	err := row.Scan(&u.ID, &u.ParentID, &u.Name, &u.Latitude, &u.Longitude, &a.TractCode, &a.CountyFIPS,
		&a.StateFIPS, &u.TotalAreaSqKm, &u.Population, &u.HousingUnits, &a.MedianHouseholdIncome,
		&a.MedianHomeValue)
	if err != nil {
		return u, err
	}
	unit := model.NewTract(u.ID, u.ParentID, u.Latitude, u.Longitude, a)
	unit.Name = u.Name
	unit.TotalAreaSqKm = u.TotalAreaSqKm
	unit.Population = u.Population
	unit.HousingUnits = u.HousingUnits
	return unit, nil
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var kind, status string
	var params, result sql.NullString
	var started, completed sql.NullTime
	if err := row.Scan(&j.ID, &kind, &j.Key, &status, &params, &result, &j.Error, &j.CreatedAt,
		&started, &completed); err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	if params.Valid {
		j.Params = json.RawMessage(params.String)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	if started.Valid {
		t := started.Time.UTC()
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time.UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}

// nullJSON maps an empty raw message to NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
