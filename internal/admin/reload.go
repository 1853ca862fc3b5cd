package admin

import (
	"fmt"
	"os"
	"strings"

	"github.com/miekg/dns"

	"github.com/dnsscience/authdnsd/internal/util"
	"github.com/dnsscience/authdnsd/internal/zone"
)

// setZoneFile mirrors admin.c's setZoneFileInConf: validates dotOrigin
// is an absolute domain name, resolves fname to an absolute path
// against cfg.ZoneFilesRoot, checks it exists, and records it for later
// ZONE RELOAD / CONFIG ZONEFILE GET calls.
func (s *Server) setZoneFile(dotOrigin, fname string) error {
	origin := util.Strip(dotOrigin, `"`)
	if !strings.HasSuffix(origin, ".") {
		return fmt.Errorf("%s is not absolute domain name.", origin)
	}
	path, err := util.ToAbsPath(util.Strip(fname, `"`), s.cfg.ZoneFilesRoot)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s doesn't exist.", path)
	}
	s.zoneFilesMu.Lock()
	s.zoneFiles[origin] = path
	s.zoneFilesMu.Unlock()
	return nil
}

func (s *Server) zoneFile(origin string) (string, bool) {
	s.zoneFilesMu.RLock()
	defer s.zoneFilesMu.RUnlock()
	path, ok := s.zoneFiles[origin]
	return path, ok
}

// reloadZone reloads origin from its configured zone file and publishes
// a new Snapshot with that zone replaced, the asyncReloadZoneRaw
// equivalent. The whole Snapshot is copied rather than mutated in place
// so concurrent readers never observe a half-updated Tree.
func (s *Server) reloadZone(origin string) error {
	if s.loader == nil {
		return fmt.Errorf("no zone loader configured")
	}
	path, ok := s.zoneFile(origin)
	if !ok {
		return fmt.Errorf("no zone file configured for %s", origin)
	}
	z, err := s.loader.LoadZone(origin, path)
	if err != nil {
		return err
	}

	old := s.tree.Snapshot()
	next := &zone.Snapshot{Zones: make(map[string]*zone.Zone, len(old.Zones)+1)}
	for o, existing := range old.Zones {
		next.Zones[o] = existing
	}
	next.Zones[dns.Fqdn(origin)] = z
	s.tree.Publish(next)
	return nil
}

// reloadAllZones reloads every zone currently in the Snapshot that has
// a configured zone file, the asyncReloadZoneRaw equivalent of
// triggerReloadAllZone.
func (s *Server) reloadAllZones() error {
	snap := s.tree.Snapshot()
	for origin := range snap.Zones {
		if _, ok := s.zoneFile(origin); !ok {
			continue
		}
		if err := s.reloadZone(origin); err != nil {
			return err
		}
	}
	return nil
}
