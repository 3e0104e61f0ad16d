package tiger

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Each shapefile part becomes its own polygon; malformed parts are skipped.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("tiger: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// ShapeCentroid returns the area-weighted centroid (lon, lat) of a polygon
// shape, or the point itself for point shapes.
func ShapeCentroid(shape shp.Shape) (lon, lat float64, err error) {
	switch s := shape.(type) {
	case *shp.Point:
		return s.X, s.Y, nil
	case *shp.Polygon:
		mp := polygonToMultiPolygon(s)
		if mp == nil {
			return 0, 0, eris.New("tiger: polygon has no usable rings")
		}
		c, err := xy.Centroid(mp)
		if err != nil {
			return 0, 0, eris.Wrap(err, "tiger: centroid")
		}
		return c.X(), c.Y(), nil
	default:
		return 0, 0, eris.Errorf("tiger: unsupported shape %T", shape)
	}
}
