package tiger

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TractRecord is one tract read from a TIGER/Line tract shapefile.
type TractRecord struct {
	GEOID      string
	Name       string
	StateFIPS  string
	CountyFIPS string // 5-digit state+county code
	TractCode  string
	LandAreaM2 float64
	Latitude   float64
	Longitude  float64
}

// ReadTracts reads every tract in a shapefile. The centroid comes from the
// polygon geometry; the internal point (INTPTLAT/INTPTLON) is used when the
// geometry is unusable. Records with neither are skipped.
func ReadTracts(shpPath string) ([]TractRecord, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	if _, ok := fieldIdx["geoid"]; !ok {
		return nil, eris.Errorf("tiger: %s has no GEOID field", shpPath)
	}

	attr := func(name string) string {
		idx, ok := fieldIdx[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var out []TractRecord
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		rec := TractRecord{
			GEOID:     attr("geoid"),
			Name:      attr("namelsad"),
			StateFIPS: attr("statefp"),
			TractCode: attr("tractce"),
		}
		if rec.Name == "" {
			rec.Name = attr("name")
		}
		rec.CountyFIPS = rec.StateFIPS + attr("countyfp")
		if len(rec.GEOID) == 11 {
			if rec.StateFIPS == "" {
				rec.StateFIPS = rec.GEOID[:2]
			}
			if len(rec.CountyFIPS) != 5 {
				rec.CountyFIPS = rec.GEOID[:5]
			}
			if rec.TractCode == "" {
				rec.TractCode = rec.GEOID[5:]
			}
		}
		rec.LandAreaM2, _ = strconv.ParseFloat(attr("aland"), 64)

		lon, lat, geomErr := ShapeCentroid(shape)
		if geomErr != nil {
			ilat, latErr := strconv.ParseFloat(attr("intptlat"), 64)
			ilon, lonErr := strconv.ParseFloat(attr("intptlon"), 64)
			if latErr != nil || lonErr != nil {
				skipped++
				continue
			}
			lon, lat = ilon, ilat
		}
		rec.Latitude, rec.Longitude = lat, lon

		if rec.GEOID == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "tiger: read shapes from %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped tract records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}
