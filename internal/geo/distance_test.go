package geo

import (
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

func tract(id string, lat, lon float64, pairs int) model.GeographicUnit {
	u := model.NewTract(id, "31080", lat, lon, model.TractAttributes{})
	u.RepeatSalesCount = pairs
	u.TransactionCount = pairs * 2
	u.PropertyCount = pairs
	return u
}

func TestDistance_KnownPair(t *testing.T) {
	t.Parallel()

	a := orb.Point{-118.25, 34.05}
	b := orb.Point{-118.30, 34.10}

	for _, m := range []Method{MethodHaversine, MethodGreatCircle, MethodEuclidean} {
		t.Run(string(m), func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, 7.22, Distance(a, b, m), 0.1)
		})
	}
}

func TestDistance_LongRange(t *testing.T) {
	t.Parallel()

	la := orb.Point{-118.2437, 34.0522}
	nyc := orb.Point{-74.0060, 40.7128}

	h := Distance(la, nyc, MethodHaversine)
	assert.InDelta(t, 3936, h, 10)
	assert.InDelta(t, h, Distance(la, nyc, MethodGreatCircle), 0.01)
}

func TestDistance_SamePointIsZero(t *testing.T) {
	t.Parallel()

	p := orb.Point{-118.25, 34.05}
	for _, m := range []Method{MethodHaversine, MethodGreatCircle, MethodEuclidean} {
		assert.InDelta(t, 0, Distance(p, p, m), 1e-9, m)
	}
}

func TestCalculateDistances_Symmetric(t *testing.T) {
	t.Parallel()

	tracts := []model.GeographicUnit{
		tract("06037101100", 34.05, -118.25, 0),
		tract("06037101200", 34.10, -118.30, 0),
		tract("06037101300", 33.95, -118.40, 0),
		tract("06037101400", 34.20, -118.10, 0),
	}

	for _, m := range []Method{MethodHaversine, MethodGreatCircle, MethodEuclidean} {
		mx, err := CalculateDistances(tracts, m)
		require.NoError(t, err)
		require.Equal(t, 4, mx.Len())

		for _, a := range tracts {
			for _, b := range tracts {
				if a.ID == b.ID {
					continue
				}
				ab, err := mx.Distance(a.ID, b.ID)
				require.NoError(t, err)
				ba, err := mx.Distance(b.ID, a.ID)
				require.NoError(t, err)
				assert.Equal(t, ab, ba)
				assert.GreaterOrEqual(t, ab, 0.0)
			}
		}

		entries := mx.Entries()
		assert.Len(t, entries, 6)
		for _, e := range entries {
			assert.NoError(t, e.Validate())
			assert.Equal(t, string(m), e.Method)
		}
	}
}

func TestMatrix_SelfDistanceFails(t *testing.T) {
	t.Parallel()

	mx, err := CalculateDistances([]model.GeographicUnit{
		tract("06037101100", 34.05, -118.25, 0),
		tract("06037101200", 34.10, -118.30, 0),
	}, MethodHaversine)
	require.NoError(t, err)

	_, err = mx.Distance("06037101100", "06037101100")
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindSameEntity))

	_, err = mx.Distance("06037101100", "99999999999")
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestCalculateDistances_Capacity(t *testing.T) {
	t.Parallel()

	tracts := make([]model.GeographicUnit, MaxTractsPerCall+1)
	for i := range tracts {
		tracts[i] = tract(fmt.Sprintf("06037%06d", i), 34, -118, 0)
	}
	_, err := CalculateDistances(tracts, MethodHaversine)
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindCapacity))
	assert.Contains(t, err.Error(), "1001 items exceeds limit of 1000")
}

func TestCalculateDistances_InvalidInput(t *testing.T) {
	t.Parallel()

	_, err := CalculateDistances([]model.GeographicUnit{
		tract("06037101100", 34.05, -118.25, 0),
		tract("06037101100", 34.10, -118.30, 0),
	}, MethodHaversine)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = CalculateDistances([]model.GeographicUnit{tract("06037101100", 95, -118.25, 0)}, MethodHaversine)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = CalculateDistances(nil, Method("manhattan"))
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestMatrix_Nearest(t *testing.T) {
	t.Parallel()

	mx, err := CalculateDistances([]model.GeographicUnit{
		tract("06037000001", 34.00, -118.00, 0),
		tract("06037000002", 34.01, -118.00, 0),
		tract("06037000003", 34.05, -118.00, 0),
		tract("06037000004", 34.50, -118.00, 0),
	}, MethodGreatCircle)
	require.NoError(t, err)

	near, err := mx.Nearest("06037000001", 2)
	require.NoError(t, err)
	require.Len(t, near, 2)
	assert.Equal(t, "06037000002", near[0].TractID)
	assert.Equal(t, "06037000003", near[1].TractID)
	assert.Less(t, near[0].DistanceKM, near[1].DistanceKM)
}
