// Package geo computes tract distances and clusters tracts into supertracts.
package geo

import (
	"math"
	"runtime"
	"sort"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// EarthRadiusKM is the mean Earth radius used by the spherical methods.
const EarthRadiusKM = 6371.0

// MaxTractsPerCall caps the number of tracts in one distance matrix.
const MaxTractsPerCall = 1000

// kmPerDegree is the length of one degree of latitude.
const kmPerDegree = 2 * math.Pi * EarthRadiusKM / 360

// Method selects the distance formula.
type Method string

const (
	MethodGreatCircle Method = "great_circle"
	MethodHaversine   Method = "haversine"
	MethodEuclidean   Method = "euclidean"
)

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodGreatCircle, MethodHaversine, MethodEuclidean:
		return m, nil
	default:
		return "", calcerr.Validation("distances", s, "unknown distance method %q", s)
	}
}

// Distance returns the distance in kilometers between two lon/lat points.
func Distance(a, b orb.Point, method Method) float64 {
	switch method {
	case MethodHaversine:
		return haversine(a, b)
	case MethodEuclidean:
		return euclidean(a, b)
	default:
		return greatCircle(a, b)
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// greatCircle uses the spherical law of cosines.
func greatCircle(a, b orb.Point) float64 {
	lat1, lat2 := radians(a.Lat()), radians(b.Lat())
	dLon := radians(b.Lon() - a.Lon())
	c := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(dLon)
	// rounding can push c just outside [-1, 1]
	c = math.Max(-1, math.Min(1, c))
	return EarthRadiusKM * math.Acos(c)
}

func haversine(a, b orb.Point) float64 {
	lat1, lat2 := radians(a.Lat()), radians(b.Lat())
	dLat := lat2 - lat1
	dLon := radians(b.Lon() - a.Lon())
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(math.Min(1, h)))
}

// euclidean is a flat-plane approximation with longitude compressed by the
// cosine of the mean latitude. Only meaningful over short distances.
func euclidean(a, b orb.Point) float64 {
	meanLat := radians((a.Lat() + b.Lat()) / 2)
	dx := (b.Lon() - a.Lon()) * math.Cos(meanLat) * kmPerDegree
	dy := (b.Lat() - a.Lat()) * kmPerDegree
	return math.Hypot(dx, dy)
}

// Matrix is a symmetric tract distance matrix.
type Matrix struct {
	Method Method
	ids    []string
	index  map[string]int
	d      [][]float64
}

// IDs returns the tract ids in matrix order.
func (m *Matrix) IDs() []string {
	return append([]string(nil), m.ids...)
}

// Len returns the number of tracts.
func (m *Matrix) Len() int {
	return len(m.ids)
}

// Distance returns the distance between two tracts. Asking for the distance
// from a tract to itself is an error.
func (m *Matrix) Distance(a, b string) (float64, error) {
	if a == b {
		return 0, calcerr.SameEntity("distances", a)
	}
	i, ok := m.index[a]
	if !ok {
		return 0, calcerr.Validation("distances", a, "tract not in matrix")
	}
	j, ok := m.index[b]
	if !ok {
		return 0, calcerr.Validation("distances", b, "tract not in matrix")
	}
	return m.d[i][j], nil
}

// Entries lists every unordered tract pair once.
func (m *Matrix) Entries() []model.DistanceEntry {
	n := len(m.ids)
	out := make([]model.DistanceEntry, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, model.DistanceEntry{
				TractID1:   m.ids[i],
				TractID2:   m.ids[j],
				DistanceKM: m.d[i][j],
				Method:     string(m.Method),
			})
		}
	}
	return out
}

// Neighbor is a tract and its distance from a reference tract.
type Neighbor struct {
	TractID    string  `json:"tract_id"`
	DistanceKM float64 `json:"distance_km"`
}

// Nearest returns up to k tracts closest to id, nearest first.
func (m *Matrix) Nearest(id string, k int) ([]Neighbor, error) {
	i, ok := m.index[id]
	if !ok {
		return nil, calcerr.Validation("distances", id, "tract not in matrix")
	}
	out := make([]Neighbor, 0, len(m.ids)-1)
	for j, other := range m.ids {
		if j != i {
			out = append(out, Neighbor{TractID: other, DistanceKM: m.d[i][j]})
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].DistanceKM != out[b].DistanceKM {
			return out[a].DistanceKM < out[b].DistanceKM
		}
		return out[a].TractID < out[b].TractID
	})
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// CalculateDistances builds the distance matrix for a set of tract
// centroids. Sets larger than MaxTractsPerCall must be batched by the caller.
func CalculateDistances(tracts []model.GeographicUnit, method Method) (*Matrix, error) {
	if len(tracts) > MaxTractsPerCall {
		return nil, calcerr.Capacity("distances", len(tracts), MaxTractsPerCall)
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}

	m := &Matrix{
		Method: method,
		ids:    make([]string, len(tracts)),
		index:  make(map[string]int, len(tracts)),
		d:      make([][]float64, len(tracts)),
	}
	points := make([]orb.Point, len(tracts))
	for i, t := range tracts {
		if _, dup := m.index[t.ID]; dup {
			return nil, calcerr.Validation("distances", t.ID, "duplicate tract id")
		}
		if err := model.ValidateCoordinates(t.ID, t.Latitude, t.Longitude); err != nil {
			return nil, err
		}
		m.ids[i] = t.ID
		m.index[t.ID] = i
		m.d[i] = make([]float64, len(tracts))
		points[i] = t.Point()
	}

	// Each row owns the cells right of the diagonal and their mirror images.
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range points {
		g.Go(func() error {
			for j := i + 1; j < len(points); j++ {
				d := Distance(points[i], points[j], method)
				m.d[i][j] = d
				m.d[j][i] = d
			}
			return nil
		})
	}
	_ = g.Wait()
	return m, nil
}
