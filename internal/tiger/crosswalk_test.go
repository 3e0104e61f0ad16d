package tiger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCrosswalk = `county_fips,cbsa_code,cbsa_title,cbsa_type
11001,47900,"Washington-Arlington-Alexandria, DC-VA-MD-WV",Metropolitan
24031,47900,"Washington-Arlington-Alexandria, DC-VA-MD-WV",Metropolitan
6037,31080,"Los Angeles-Long Beach-Anaheim, CA",Metropolitan
`

func TestReadCrosswalk(t *testing.T) {
	cw, err := ReadCrosswalk(strings.NewReader(sampleCrosswalk))
	require.NoError(t, err)
	assert.Len(t, cw, 3)

	cbsa, ok := cw.CBSA("11001")
	require.True(t, ok)
	assert.Equal(t, "47900", cbsa)
	assert.Equal(t, "Metropolitan", cw["11001"].CBSAType)
	assert.Equal(t, "Washington-Arlington-Alexandria, DC-VA-MD-WV", cw["11001"].CBSATitle)

	// Four-digit county codes are zero-padded.
	cbsa, ok = cw.CBSA("06037")
	require.True(t, ok)
	assert.Equal(t, "31080", cbsa)

	_, ok = cw.CBSA("24023")
	assert.False(t, ok)
}

func TestReadCrosswalk_MinimalColumns(t *testing.T) {
	cw, err := ReadCrosswalk(strings.NewReader("county_fips,cbsa_code\n48201,26420\n"))
	require.NoError(t, err)
	assert.Equal(t, "26420", cw["48201"].CBSACode)
	assert.Empty(t, cw["48201"].CBSATitle)
}

func TestReadCrosswalk_InvalidRow(t *testing.T) {
	_, err := ReadCrosswalk(strings.NewReader("county_fips,cbsa_code\n48201,26420\n482,26420\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 3")

	_, err = ReadCrosswalk(strings.NewReader("county_fips,cbsa_code\n48201,ABCDE\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cbsa code")
}

func TestReadCrosswalkFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosswalk.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCrosswalk), 0o644))

	cw, err := ReadCrosswalkFile(path)
	require.NoError(t, err)
	assert.Len(t, cw, 3)

	_, err = ReadCrosswalkFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
