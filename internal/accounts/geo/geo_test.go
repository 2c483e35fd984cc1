package geo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/accounts/internal/accounts/geo"
	"github.com/stretchr/testify/require"
)

var (
	sydney = geo.Location{Lat: -33.8688, Lon: 151.2093}
	london = geo.Location{Lat: 51.5074, Lon: -0.1278}
)

func TestDistanceKm(t *testing.T) {
	require.InDelta(t, 16990, geo.DistanceKm(sydney, london), 50)
	require.Zero(t, geo.DistanceKm(sydney, sydney))
}

func TestTableLongestPrefix(t *testing.T) {
	tbl, err := geo.NewTable([]geo.TableEntry{
		{CIDR: "203.0.0.0/8", Lat: 0, Lon: 0},
		{CIDR: "203.0.113.0/24", Lat: sydney.Lat, Lon: sydney.Lon},
		{CIDR: "2001:db8::/32", Lat: london.Lat, Lon: london.Lon},
	})
	require.NoError(t, err)

	loc, ok := tbl.Locate("203.0.113.50")
	require.True(t, ok)
	require.Equal(t, sydney, loc)

	loc, ok = tbl.Locate("203.9.9.9")
	require.True(t, ok)
	require.Equal(t, geo.Location{}, loc)

	_, ok = tbl.Locate("2001:db8::1")
	require.True(t, ok)

	_, ok = tbl.Locate("::ffff:203.0.113.50")
	require.True(t, ok)

	_, ok = tbl.Locate("198.51.100.1")
	require.False(t, ok)

	_, ok = tbl.Locate("nonsense")
	require.False(t, ok)
}

func TestLoadTable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "geo.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"cidr":"198.51.100.0/24","lat":51.5,"lon":-0.12}]`), 0600))

	tbl, err := geo.LoadTable(file)
	require.NoError(t, err)
	_, ok := tbl.Locate("198.51.100.7")
	require.True(t, ok)

	require.NoError(t, os.WriteFile(file, []byte(`[{"cidr":"bogus"}]`), 0600))
	_, err = geo.LoadTable(file)
	require.Error(t, err)
}
