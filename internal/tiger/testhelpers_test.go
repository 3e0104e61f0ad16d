package tiger

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

type testTract struct {
	GEOID    string
	Name     string
	Ring     []shp.Point
	ALand    float64
	IntPtLat string
	IntPtLon string
}

func square(lon, lat, size float64) []shp.Point {
	return []shp.Point{
		{X: lon, Y: lat},
		{X: lon, Y: lat + size},
		{X: lon + size, Y: lat + size},
		{X: lon + size, Y: lat},
		{X: lon, Y: lat},
	}
}

// writeTractShapefile writes a polygon shapefile with the TIGER tract
// attribute layout and returns the .shp path.
func writeTractShapefile(t *testing.T, dir, name string, tracts []testTract) string {
	t.Helper()

	path := filepath.Join(dir, name+".shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("GEOID", 11),
		shp.StringField("NAMELSAD", 40),
		shp.StringField("STATEFP", 2),
		shp.StringField("COUNTYFP", 3),
		shp.StringField("TRACTCE", 6),
		shp.FloatField("ALAND", 14, 0),
		shp.StringField("INTPTLAT", 12),
		shp.StringField("INTPTLON", 12),
	}))

	for _, tr := range tracts {
		poly := &shp.Polygon{
			NumParts:  1,
			NumPoints: int32(len(tr.Ring)),
			Parts:     []int32{0},
			Points:    tr.Ring,
		}
		poly.Box = shp.BBoxFromPoints(tr.Ring)
		row := int(w.Write(poly))
		require.NoError(t, w.WriteAttribute(row, 0, tr.GEOID))
		require.NoError(t, w.WriteAttribute(row, 1, tr.Name))
		require.NoError(t, w.WriteAttribute(row, 2, tr.GEOID[:2]))
		require.NoError(t, w.WriteAttribute(row, 3, tr.GEOID[2:5]))
		require.NoError(t, w.WriteAttribute(row, 4, tr.GEOID[5:]))
		require.NoError(t, w.WriteAttribute(row, 5, tr.ALand))
		require.NoError(t, w.WriteAttribute(row, 6, tr.IntPtLat))
		require.NoError(t, w.WriteAttribute(row, 7, tr.IntPtLon))
	}
	w.Close()

	placeDBF(t, path)
	return path
}

// placeDBF moves the attribute table next to the .shp when the writer
// dropped the dot from its extension.
func placeDBF(t *testing.T, shpPath string) {
	t.Helper()

	base := strings.TrimSuffix(shpPath, ".shp")
	want := base + ".dbf"
	if _, err := os.Stat(want); err == nil {
		return
	}
	for _, candidate := range []string{base + "dbf", base + "..dbf"} {
		if _, err := os.Stat(candidate); err == nil {
			require.NoError(t, os.Rename(candidate, want))
			return
		}
	}
	t.Fatalf("no attribute table written for %s", shpPath)
}

// zipShapefile bundles the .shp, .shx and .dbf siblings of shpPath into a
// ZIP archive and returns its bytes.
func zipShapefile(t *testing.T, shpPath string) []byte {
	t.Helper()

	base := shpPath[:len(shpPath)-len(".shp")]
	files := make(map[string]string, 3)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(base + ext)
		require.NoError(t, err)
		files[filepath.Base(base+ext)] = string(data)
	}
	return createTestZIP(t, files)
}

// createTestZIP creates a ZIP file in memory with the given files.
func createTestZIP(t *testing.T, files map[string]string) []byte {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(tmpFile)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, createErr := w.Create(name)
		require.NoError(t, createErr)
		_, writeErr := fw.Write([]byte(content))
		require.NoError(t, writeErr)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(tmpFile)
	require.NoError(t, err)
	return data
}
