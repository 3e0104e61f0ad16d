package model

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// GeographicLevel tags a GeographicUnit.
type GeographicLevel string

const (
	LevelProperty   GeographicLevel = "property"
	LevelTract      GeographicLevel = "tract"
	LevelSupertract GeographicLevel = "supertract"
	LevelCounty     GeographicLevel = "county"
	LevelCBSA       GeographicLevel = "cbsa"
	LevelState      GeographicLevel = "state"
	LevelNational   GeographicLevel = "national"
)

// TractAttributes carries the census fields only tracts have.
type TractAttributes struct {
	TractCode             string  `json:"tract_code"`
	CountyFIPS            string  `json:"county_fips"`
	StateFIPS             string  `json:"state_fips"`
	MedianHouseholdIncome float64 `json:"median_household_income,omitempty"`
	MedianHomeValue       float64 `json:"median_home_value,omitempty"`
}

// CBSAAttributes carries the fields only CBSAs have.
type CBSAAttributes struct {
	CBSACode       string  `json:"cbsa_code"`
	CBSAType       string  `json:"cbsa_type"` // Metropolitan or Micropolitan
	PrincipalCity  string  `json:"principal_city,omitempty"`
	Population2020 int64   `json:"population_2020,omitempty"`
	GDPPerCapita   float64 `json:"gdp_per_capita,omitempty"`
}

// GeographicUnit is any node of the geographic hierarchy. Level is fixed by
// the factory that built the unit; Tract and CBSA are only set on their own level.
type GeographicUnit struct {
	ID               string           `json:"id"`
	Level            GeographicLevel  `json:"level"`
	Name             string           `json:"name,omitempty"`
	Latitude         float64          `json:"latitude"`
	Longitude        float64          `json:"longitude"`
	ParentID         string           `json:"parent_id,omitempty"`
	ChildrenIDs      []string         `json:"children_ids,omitempty"`
	TotalAreaSqKm    float64          `json:"total_area_sqkm,omitempty"`
	Population       int64            `json:"population,omitempty"`
	HousingUnits     int64            `json:"housing_units,omitempty"`
	TransactionCount int              `json:"transaction_count"`
	PropertyCount    int              `json:"property_count"`
	RepeatSalesCount int              `json:"repeat_sales_count"`
	Tract            *TractAttributes `json:"tract,omitempty"`
	CBSA             *CBSAAttributes  `json:"cbsa,omitempty"`
}

// NewTract builds a tract-level unit. The tract id is the 11-digit GEOID and
// the parent is the CBSA the tract belongs to.
func NewTract(id, cbsaID string, lat, lon float64, attrs TractAttributes) GeographicUnit {
	return GeographicUnit{
		ID:        id,
		Level:     LevelTract,
		Latitude:  lat,
		Longitude: lon,
		ParentID:  cbsaID,
		Tract:     &attrs,
	}
}

// NewSupertractUnit builds the geographic unit view of a supertract definition.
func NewSupertractUnit(def SupertractDefinition) GeographicUnit {
	return GeographicUnit{
		ID:               def.ID,
		Level:            LevelSupertract,
		Name:             def.Name,
		Latitude:         def.CentroidLatitude,
		Longitude:        def.CentroidLongitude,
		ParentID:         def.CBSAID,
		ChildrenIDs:      append([]string(nil), def.TractIDs...),
		TransactionCount: def.TotalTransactions,
		PropertyCount:    def.TotalProperties,
		RepeatSalesCount: def.TotalRepeatPairs,
	}
}

// NewCounty builds a county-level unit keyed by its 5-digit FIPS code.
func NewCounty(fips, name, stateFIPS string, lat, lon float64) GeographicUnit {
	return GeographicUnit{ID: fips, Level: LevelCounty, Name: name, ParentID: stateFIPS, Latitude: lat, Longitude: lon}
}

// NewCBSA builds a CBSA-level unit.
func NewCBSA(code, name string, lat, lon float64, attrs CBSAAttributes) GeographicUnit {
	if attrs.CBSACode == "" {
		attrs.CBSACode = code
	}
	return GeographicUnit{ID: code, Level: LevelCBSA, Name: name, Latitude: lat, Longitude: lon, CBSA: &attrs}
}

// NewState builds a state-level unit keyed by its FIPS code.
func NewState(fips, name string, lat, lon float64) GeographicUnit {
	return GeographicUnit{ID: fips, Level: LevelState, Name: name, ParentID: "US", Latitude: lat, Longitude: lon}
}

// NewNational builds the single national unit.
func NewNational() GeographicUnit {
	return GeographicUnit{ID: "US", Level: LevelNational, Name: "United States", Latitude: 39.8283, Longitude: -98.5795}
}

// Point returns the unit centroid as an orb point (lon, lat).
func (g GeographicUnit) Point() orb.Point {
	return orb.Point{g.Longitude, g.Latitude}
}

// Validate checks the id, coordinate ranges and level-specific attributes.
func (g GeographicUnit) Validate() error {
	if g.ID == "" {
		return calcerr.Validation("geography", "", "unit id is required")
	}
	if err := ValidateCoordinates(g.ID, g.Latitude, g.Longitude); err != nil {
		return err
	}
	switch g.Level {
	case LevelTract:
		if len(g.ID) < 6 {
			return calcerr.Validation("geography", g.ID, "tract id must be at least 6 characters")
		}
	case LevelProperty, LevelSupertract, LevelCounty, LevelCBSA, LevelState, LevelNational:
	default:
		return calcerr.Validation("geography", g.ID, "unknown level %q", g.Level)
	}
	if g.Tract != nil && g.Level != LevelTract {
		return calcerr.Validation("geography", g.ID, "tract attributes on %s unit", g.Level)
	}
	if g.CBSA != nil && g.Level != LevelCBSA {
		return calcerr.Validation("geography", g.ID, "cbsa attributes on %s unit", g.Level)
	}
	if g.TransactionCount < 0 || g.PropertyCount < 0 || g.RepeatSalesCount < 0 {
		return calcerr.Validation("geography", g.ID, "observation counts must be non-negative")
	}
	return nil
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(id string, lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return calcerr.Validation("geography", id, "latitude %.6f outside [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return calcerr.Validation("geography", id, "longitude %.6f outside [-180, 180]", lon)
	}
	return nil
}

// SupertractDefinition is one generated cluster of tracts for a CBSA.
type SupertractDefinition struct {
	ID                string             `json:"id"`
	CBSAID            string             `json:"cbsa_id"`
	Name              string             `json:"name,omitempty"`
	TractIDs          []string           `json:"tract_ids"`
	Method            string             `json:"generation_method"`
	Parameters        map[string]float64 `json:"generation_parameters"`
	MinObservations   int                `json:"min_observations_threshold"`
	TotalTransactions int                `json:"total_transactions"`
	TotalProperties   int                `json:"total_properties"`
	TotalRepeatPairs  int                `json:"total_repeat_pairs"`
	CentroidLatitude  float64            `json:"centroid_latitude"`
	CentroidLongitude float64            `json:"centroid_longitude"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Validate checks that the tract set is non-empty and unique and that the
// cluster meets its observation floor.
func (d SupertractDefinition) Validate() error {
	if len(d.TractIDs) == 0 {
		return calcerr.Validation("supertract", d.ID, "at least one tract is required")
	}
	seen := make(map[string]struct{}, len(d.TractIDs))
	for _, id := range d.TractIDs {
		if _, dup := seen[id]; dup {
			return calcerr.Validation("supertract", d.ID, "tract %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	if d.TotalRepeatPairs < d.MinObservations {
		return calcerr.InsufficientData("supertract", d.ID, "%d repeat pairs below threshold %d",
			d.TotalRepeatPairs, d.MinObservations)
	}
	return nil
}

// ClusteringResult summarises one supertract generation run.
type ClusteringResult struct {
	CBSAID                    string             `json:"cbsa_id"`
	Algorithm                 string             `json:"algorithm"`
	Parameters                map[string]float64 `json:"parameters"`
	TotalTracts               int                `json:"total_tracts"`
	TotalSupertracts          int                `json:"total_supertracts"`
	UnclusteredTracts         []string           `json:"unclustered_tracts"`
	AverageSupertractSize     float64            `json:"average_supertract_size"`
	MinSupertractObservations int                `json:"min_supertract_observations"`
	CoverageRatio             float64            `json:"coverage_ratio"`
	ExecutionTime             time.Duration      `json:"execution_time"`
}

// DistanceEntry is the distance between two distinct tracts.
type DistanceEntry struct {
	TractID1   string  `json:"tract_id_1"`
	TractID2   string  `json:"tract_id_2"`
	DistanceKM float64 `json:"distance_km"`
	Method     string  `json:"method"`
}

// Validate checks that the entry joins two distinct tracts with a
// non-negative distance.
func (e DistanceEntry) Validate() error {
	if e.TractID1 == e.TractID2 {
		return calcerr.SameEntity("distance", e.TractID1)
	}
	if e.DistanceKM < 0 {
		return calcerr.Validation("distance", e.TractID1+":"+e.TractID2, "distance must be non-negative")
	}
	return nil
}
