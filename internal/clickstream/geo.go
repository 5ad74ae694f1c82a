package clickstream

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
	"github.com/zeebo/xxh3"
)

// Locator resolves an IP address to a coarse location. Implementations must
// be safe for concurrent use; an unresolvable address yields empty strings.
type Locator interface {
	Locate(ip string) (country, city string)
}

// cityRecord matches the subset of the GeoLite2-City schema we read.
type cityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// MaxMindLocator resolves locations from an mmdb file. The reader swaps
// under an RWMutex so the database can be reloaded without stopping lookups.
type MaxMindLocator struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader
}

// OpenMaxMindLocator opens the mmdb database at path.
func OpenMaxMindLocator(path string) (*MaxMindLocator, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("clickstream: open geo db %s: %w", path, err)
	}
	return &MaxMindLocator{reader: reader}, nil
}

// Locate returns the ISO country code and English city name for ip.
func (l *MaxMindLocator) Locate(ip string) (string, string) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", ""
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reader == nil {
		return "", ""
	}
	var rec cityRecord
	if err := l.reader.Lookup(addr, &rec); err != nil {
		return "", ""
	}
	return rec.Country.ISOCode, rec.City.Names["en"]
}

// Reload swaps in a fresh copy of the database. Lookups in flight finish
// against the old reader before it is closed.
func (l *MaxMindLocator) Reload(path string) error {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return fmt.Errorf("clickstream: reload geo db %s: %w", path, err)
	}
	l.mu.Lock()
	old := l.reader
	l.reader = reader
	l.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close releases the database.
func (l *MaxMindLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader == nil {
		return nil
	}
	err := l.reader.Close()
	l.reader = nil
	return err
}

var syntheticCountries = []string{"US", "GB", "DE", "FR", "JP", "IN", "BR", "CA", "AU", "NL"}

var syntheticCities = []string{
	"New York", "London", "Berlin", "Paris", "Tokyo",
	"Mumbai", "São Paulo", "Toronto", "Sydney", "Amsterdam",
}

// SyntheticLocator derives a stable pseudo-location from the address itself.
// Used in environments without a geo database so the stats pipeline still
// exercises its country and city dimensions end to end.
type SyntheticLocator struct{}

// Locate hashes the address onto a fixed country/city list. The same address
// always maps to the same location.
func (SyntheticLocator) Locate(ip string) (string, string) {
	if ip == "" {
		return "", ""
	}
	h := xxh3.HashString(ip)
	return syntheticCountries[h%uint64(len(syntheticCountries))],
		syntheticCities[(h>>32)%uint64(len(syntheticCities))]
}

// NopLocator resolves nothing. Geo enrichment is skipped entirely.
type NopLocator struct{}

// Locate always returns empty strings.
func (NopLocator) Locate(string) (string, string) { return "", "" }
