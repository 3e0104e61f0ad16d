// Package tiger loads census tract centroids from Census TIGER/Line
// shapefiles and assigns each tract to its CBSA through a county crosswalk.
package tiger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the Census Bureau TIGER/Line root.
const DefaultBaseURL = "https://www2.census.gov/geo/tiger"

// FIPSCodes maps state abbreviation to 2-digit FIPS code for all 50 states + DC.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56",
}

var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		abbrByFIPS[fips] = abbr
	}
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// StateFIPS resolves a state abbreviation or FIPS code to the FIPS code.
func StateFIPS(state string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(state))
	if fips, ok := FIPSCodes[s]; ok {
		return fips, nil
	}
	if _, ok := abbrByFIPS[s]; ok {
		return s, nil
	}
	return "", eris.Errorf("tiger: unknown state %q", state)
}

// AllStateFIPS returns a sorted list of all state FIPS codes.
func AllStateFIPS() []string {
	codes := make([]string, 0, len(FIPSCodes))
	for _, fips := range FIPSCodes {
		codes = append(codes, fips)
	}
	sort.Strings(codes)
	return codes
}

// TractURL builds the download URL of the tract shapefile for one state,
// e.g. {base}/TIGER2024/TRACT/tl_2024_48_tract.zip.
func TractURL(baseURL string, year int, stateFIPS string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return fmt.Sprintf("%s/TIGER%d/TRACT/tl_%d_%s_tract.zip",
		strings.TrimRight(baseURL, "/"), year, year, stateFIPS)
}
