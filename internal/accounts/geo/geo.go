// Package geo maps IP addresses to approximate coordinates for the
// impossible-travel risk factor.
package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"os"
	"sort"
)

// Location is a point on the globe in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Resolver looks up the location of an IP. ok is false when unknown.
type Resolver interface {
	Locate(ip string) (Location, bool)
}

// Table resolves IPs against a list of CIDR prefixes, longest prefix wins.
type Table struct {
	entries []entry
}

type entry struct {
	prefix netip.Prefix
	loc    Location
}

// TableEntry is the JSON form of one row.
type TableEntry struct {
	CIDR string  `json:"cidr"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// NewTable builds a Table from rows.
func NewTable(rows []TableEntry) (*Table, error) {
	t := &Table{entries: make([]entry, 0, len(rows))}
	for _, r := range rows {
		p, err := netip.ParsePrefix(r.CIDR)
		if err != nil {
			return nil, fmt.Errorf("geo: %q: %w", r.CIDR, err)
		}
		t.entries = append(t.entries, entry{prefix: p.Masked(), loc: Location{Lat: r.Lat, Lon: r.Lon}})
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].prefix.Bits() > t.entries[j].prefix.Bits()
	})
	return t, nil
}

// LoadTable reads a JSON array of TableEntry from file.
func LoadTable(file string) (*Table, error) {
	raw, err := os.ReadFile(file) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("geo: read table: %w", err)
	}
	var rows []TableEntry
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("geo: parse table: %w", err)
	}
	return NewTable(rows)
}

func (t *Table) Locate(ip string) (Location, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{}, false
	}
	addr = addr.Unmap()
	for _, e := range t.entries {
		if e.prefix.Contains(addr) {
			return e.loc, true
		}
	}
	return Location{}, false
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Location) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
