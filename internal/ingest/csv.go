// Package ingest decodes the CSV feeds the calculator consumes: validated
// transactions, tract centroid tables and published index series.
package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rsai-cli/internal/model"
)

// dateLayouts are the sale date formats accepted in transaction feeds.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006"}

// TransactionRow is one line of a transaction feed.
type TransactionRow struct {
	ID              string  `csv:"id"`
	PropertyID      string  `csv:"property_id"`
	SaleDate        string  `csv:"sale_date"`
	Price           float64 `csv:"price"`
	TransactionType string  `csv:"transaction_type,omitempty"`
	PropertyType    string  `csv:"property_type,omitempty"`
	TractID         string  `csv:"tract_id"`
	CBSAID          string  `csv:"cbsa_id"`
	CountyFIPS      string  `csv:"county_fips,omitempty"`
	StateCode       string  `csv:"state_code,omitempty"`
	ZipCode         string  `csv:"zip_code,omitempty"`
	DataSource      string  `csv:"data_source,omitempty"`
}

// ReadTransactions decodes and validates a transaction feed. The first
// invalid row fails the whole read with its line number.
func ReadTransactions(r io.Reader) ([]model.Transaction, error) {
	var rows []TransactionRow
	if err := decode(r, &rows, "transactions"); err != nil {
		return nil, err
	}

	out := make([]model.Transaction, 0, len(rows))
	for i, row := range rows {
		d, err := parseDate(row.SaleDate)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: transactions line %d", i+2)
		}
		t := model.Transaction{
			ID:              strings.TrimSpace(row.ID),
			PropertyID:      strings.TrimSpace(row.PropertyID),
			SaleDate:        d,
			Price:           row.Price,
			TransactionType: model.TransactionType(strings.TrimSpace(row.TransactionType)),
			PropertyType:    model.PropertyType(strings.TrimSpace(row.PropertyType)),
			TractID:         strings.TrimSpace(row.TractID),
			CBSAID:          strings.TrimSpace(row.CBSAID),
			CountyFIPS:      row.CountyFIPS,
			StateCode:       row.StateCode,
			ZipCode:         row.ZipCode,
			DataSource:      row.DataSource,
		}
		if err := t.Validate(); err != nil {
			return nil, eris.Wrapf(err, "ingest: transactions line %d", i+2)
		}
		out = append(out, t)
	}
	return out, nil
}

// TractRow is one line of a tract centroid table.
type TractRow struct {
	ID           string  `csv:"id"`
	CBSAID       string  `csv:"cbsa_id"`
	Name         string  `csv:"name,omitempty"`
	Latitude     float64 `csv:"latitude"`
	Longitude    float64 `csv:"longitude"`
	CountyFIPS   string  `csv:"county_fips,omitempty"`
	StateFIPS    string  `csv:"state_fips,omitempty"`
	Population   int64   `csv:"population,omitempty"`
	HousingUnits int64   `csv:"housing_units,omitempty"`
	AreaSqKm     float64 `csv:"area_sqkm,omitempty"`
}

// ReadTracts decodes a tract centroid table into tract-level units.
func ReadTracts(r io.Reader) ([]model.GeographicUnit, error) {
	var rows []TractRow
	if err := decode(r, &rows, "tracts"); err != nil {
		return nil, err
	}

	out := make([]model.GeographicUnit, 0, len(rows))
	for i, row := range rows {
		id := strings.TrimSpace(row.ID)
		attrs := model.TractAttributes{CountyFIPS: row.CountyFIPS, StateFIPS: row.StateFIPS}
		if len(id) == 11 {
			attrs.TractCode = id[5:]
			if attrs.CountyFIPS == "" {
				attrs.CountyFIPS = id[:5]
			}
			if attrs.StateFIPS == "" {
				attrs.StateFIPS = id[:2]
			}
		}
		u := model.NewTract(id, strings.TrimSpace(row.CBSAID), row.Latitude, row.Longitude, attrs)
		u.Name = row.Name
		u.Population = row.Population
		u.HousingUnits = row.HousingUnits
		u.TotalAreaSqKm = row.AreaSqKm
		if err := u.Validate(); err != nil {
			return nil, eris.Wrapf(err, "ingest: tracts line %d", i+2)
		}
		out = append(out, u)
	}
	return out, nil
}

// SeriesRow is one period of a published index series.
type SeriesRow struct {
	Period        string  `csv:"period"`
	Value         float64 `csv:"value"`
	StandardError float64 `csv:"standard_error,omitempty"`
	NumPairs      int     `csv:"num_pairs,omitempty"`
}

// ReadSeries decodes an index series. Periods must share one frequency and
// ascend; the first period is the base unless it is rebased later.
func ReadSeries(r io.Reader, geographyID string) (*model.IndexTimeSeries, error) {
	var rows []SeriesRow
	if err := decode(r, &rows, "series"); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("ingest: series has no rows")
	}

	s := &model.IndexTimeSeries{
		GeographyID: geographyID,
		CreatedAt:   time.Now().UTC(),
	}
	for i, row := range rows {
		p, err := model.ParsePeriod(row.Period)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: series line %d", i+2)
		}
		if s.Frequency == "" {
			s.Frequency = p.Frequency
		} else if p.Frequency != s.Frequency {
			return nil, eris.Errorf("ingest: series line %d: period %s is not %s", i+2, row.Period, s.Frequency)
		}
		s.Periods = append(s.Periods, p)
		s.Values = append(s.Values, row.Value)
		s.StandardErrors = append(s.StandardErrors, row.StandardError)
		s.NumPairs = append(s.NumPairs, row.NumPairs)
	}
	s.BasePeriod = s.Periods[0]
	s.BaseValue = s.Values[0]
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteSeries encodes a series in the format ReadSeries accepts.
func WriteSeries(w io.Writer, s model.IndexTimeSeries) error {
	rows := make([]SeriesRow, len(s.Periods))
	for i, p := range s.Periods {
		rows[i] = SeriesRow{Period: p.Key(), Value: s.Values[i]}
		if i < len(s.StandardErrors) {
			rows[i].StandardError = s.StandardErrors[i]
		}
		if i < len(s.NumPairs) {
			rows[i].NumPairs = s.NumPairs[i]
		}
	}
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrap(err, "ingest: encode series")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "ingest: write series")
	}
	return nil
}

// Open runs read over the named file.
func Open[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return read(f)
}

func decode(r io.Reader, dst any, what string) error {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if err == io.EOF {
			return eris.Errorf("ingest: %s file is empty", what)
		}
		return eris.Wrapf(err, "ingest: %s header", what)
	}
	if err := dec.Decode(dst); err != nil {
		return eris.Wrapf(err, "ingest: decode %s", what)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognised sale date %q", s)
}
