package main

import (
	"fmt"
	"os"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/dnsscience/authdnsd/internal/zone"
)

// ConfigFile is the on-disk YAML shape for authdnsd, following
// cmd/dnsscience-grpc/config.go's ConfigFile/LoadConfig pattern: flags
// override whatever this file sets, this file overrides the built-in
// defaults in main.go.
type ConfigFile struct {
	Listen        string `yaml:"listen"`
	AdminListen   string `yaml:"admin_listen"`
	MetricsListen string `yaml:"metrics_listen"`
	ZoneFilesRoot string `yaml:"zone_files_root"`

	Zones []ZoneConfig `yaml:"zones"`
}

// ZoneConfig names a zone to load at startup, either inline (Records)
// or from a fixture file on disk (File, loaded by fixtureZoneLoader —
// same format as Records, kept in its own file so CONFIG ZONEFILE SET
// / ZONE RELOAD have something to point at later).
type ZoneConfig struct {
	Origin  string         `yaml:"origin"`
	File    string         `yaml:"file"`
	Records []RecordConfig `yaml:"records"`
}

// RecordConfig is one resource record in the zone fixture format: not
// a BIND/dnszone grammar (that parser stays out of scope), just enough
// fields to build a miekg/dns presentation-format line and hand it to
// dns.NewRR.
type RecordConfig struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	TTL   uint32 `yaml:"ttl"`
	Value string `yaml:"value"`
}

// LoadConfig reads and parses path, the way cmd/dnsscience-grpc's
// LoadConfig does.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cf ConfigFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cf, nil
}

// recordsToZone turns a slice of RecordConfig into a *zone.Zone via
// zone.FromRRs, the shared path used both for zones declared inline in
// the top-level config and for zones loaded from a fixture file.
func recordsToZone(origin string, records []RecordConfig) (*zone.Zone, error) {
	rrs := make([]dns.RR, 0, len(records))
	for _, rec := range records {
		line := fmt.Sprintf("%s %d IN %s %s", dns.Fqdn(rec.Name), rec.TTL, rec.Type, rec.Value)
		rr, err := dns.NewRR(line)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", line, err)
		}
		rrs = append(rrs, rr)
	}
	return zone.FromRRs(dns.Fqdn(origin), rrs)
}

// fixtureZoneLoader implements internal/admin.ZoneLoader against the
// in-repo zone fixture YAML format (a bare "records:" list, the same
// RecordConfig shape used inline in ConfigFile.Zones). It is what
// CONFIG ZONEFILE SET / ZONE RELOAD end up calling.
type fixtureZoneLoader struct{}

func (fixtureZoneLoader) LoadZone(origin, path string) (*zone.Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone fixture %s: %w", path, err)
	}
	var fixture struct {
		Records []RecordConfig `yaml:"records"`
	}
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse zone fixture %s: %w", path, err)
	}
	return recordsToZone(origin, fixture.Records)
}
