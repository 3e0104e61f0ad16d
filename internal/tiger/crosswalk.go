package tiger

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// CrosswalkRow maps one county to the CBSA that contains it.
type CrosswalkRow struct {
	CountyFIPS string `csv:"county_fips"`
	CBSACode   string `csv:"cbsa_code"`
	CBSATitle  string `csv:"cbsa_title,omitempty"`
	CBSAType   string `csv:"cbsa_type,omitempty"`
}

// Crosswalk maps 5-digit county FIPS codes to CBSAs. Counties outside any
// CBSA are absent.
type Crosswalk map[string]CrosswalkRow

// CBSA returns the CBSA code of a county.
func (c Crosswalk) CBSA(countyFIPS string) (string, bool) {
	row, ok := c[countyFIPS]
	return row.CBSACode, ok
}

// ReadCrosswalk decodes a county-to-CBSA CSV with a header row. County codes
// of four digits are zero-padded.
func ReadCrosswalk(r io.Reader) (Crosswalk, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, eris.Wrap(err, "tiger: crosswalk header")
	}

	var rows []CrosswalkRow
	if err := dec.Decode(&rows); err != nil {
		return nil, eris.Wrap(err, "tiger: decode crosswalk")
	}

	cw := make(Crosswalk, len(rows))
	for i, row := range rows {
		row.CountyFIPS = strings.TrimSpace(row.CountyFIPS)
		row.CBSACode = strings.TrimSpace(row.CBSACode)
		if len(row.CountyFIPS) == 4 {
			row.CountyFIPS = "0" + row.CountyFIPS
		}
		if !isDigits(row.CountyFIPS, 5) {
			return nil, eris.Errorf("tiger: crosswalk row %d: county fips %q must be 5 digits", i+2, row.CountyFIPS)
		}
		if !isDigits(row.CBSACode, 5) {
			return nil, eris.Errorf("tiger: crosswalk row %d: cbsa code %q must be 5 digits", i+2, row.CBSACode)
		}
		cw[row.CountyFIPS] = row
	}
	return cw, nil
}

// ReadCrosswalkFile is ReadCrosswalk over a file.
func ReadCrosswalkFile(path string) (Crosswalk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open crosswalk %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCrosswalk(f)
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
