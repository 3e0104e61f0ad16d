package tiger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIPSCodes_Complete(t *testing.T) {
	assert.Len(t, FIPSCodes, 51)
	assert.Len(t, AllStateFIPS(), 51)
	assert.Equal(t, "01", AllStateFIPS()[0])
}

func TestAbbrFromFIPS(t *testing.T) {
	abbr, ok := AbbrFromFIPS("48")
	require.True(t, ok)
	assert.Equal(t, "TX", abbr)

	_, ok = AbbrFromFIPS("99")
	assert.False(t, ok)
}

func TestStateFIPS(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TX", "48"},
		{"tx", "48"},
		{" dc ", "11"},
		{"06", "06"},
	}
	for _, tt := range tests {
		got, err := StateFIPS(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := StateFIPS("ZZ")
	assert.Error(t, err)
	_, err = StateFIPS("03")
	assert.Error(t, err)
}

func TestTractURL(t *testing.T) {
	assert.Equal(t,
		"https://www2.census.gov/geo/tiger/TIGER2024/TRACT/tl_2024_48_tract.zip",
		TractURL("", 2024, "48"))
	assert.Equal(t,
		"http://mirror.local/TIGER2020/TRACT/tl_2020_11_tract.zip",
		TractURL("http://mirror.local/", 2020, "11"))
}
