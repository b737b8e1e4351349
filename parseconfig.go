/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package authdns

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// processConfigFile reads and processes a YAML config file and any
// included files. Includes must be a single top-level array:
//
//	include:
//	  - file1.yaml
//	  - file2.yaml
func processConfigFile(file string, baseDir string, depth int) (map[string]interface{}, error) {
	if depth > 10 {
		return nil, errors.New("maximum include depth exceeded (10 levels)")
	}

	if Globals.Debug {
		log.Printf("processConfigFile: reading %q", file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %v", file, err)
	}

	var config map[string]interface{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %v", err)
	}

	if includes, ok := config["include"].([]interface{}); ok {
		delete(config, "include")
		for _, inc := range includes {
			includeFile, ok := inc.(string)
			if !ok {
				continue
			}
			fullPath := includeFile
			if !filepath.IsAbs(fullPath) {
				fullPath = filepath.Join(baseDir, includeFile)
			}
			fullPath = filepath.Clean(fullPath)

			included, err := processConfigFile(fullPath, filepath.Dir(fullPath), depth+1)
			if err != nil {
				return nil, err
			}
			for k, v := range included {
				if existing, exists := config[k]; exists {
					if existingMap, ok1 := existing.(map[string]interface{}); ok1 {
						if newMap, ok2 := v.(map[string]interface{}); ok2 {
							for k2, v2 := range newMap {
								existingMap[k2] = v2
							}
							continue
						}
					}
				}
				config[k] = v
			}
		}
	}
	return config, nil
}

// ParseConfig loads authdns.yaml into conf via viper, honouring
// top-level includes (§2).
func (conf *Config) ParseConfig(reload bool) error {
	cfgfile := conf.Internal.CfgFile
	if cfgfile == "" {
		cfgfile = DefaultServerCfgFile
	}

	merged, err := processConfigFile(cfgfile, filepath.Dir(cfgfile), 0)
	if err != nil {
		return fmt.Errorf("ParseConfig: %v", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	buf, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("ParseConfig: re-marshal failed: %v", err)
	}
	if err := v.ReadConfig(strings.NewReader(string(buf))); err != nil {
		return fmt.Errorf("ParseConfig: %v", err)
	}
	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("ParseConfig: unmarshal failed: %v", err)
	}

	if !reload {
		log.Printf("ParseConfig: loaded %q (%d zones configured)", cfgfile, len(conf.Zones))
	}
	return nil
}

// ParseZones loads each configured zone's master file into reg,
// returning the list of zone apex names now present.
func (conf *Config) ParseZones(reg *Registry, reload bool) ([]string, error) {
	var loaded []string

	for name, zc := range conf.Zones {
		apex := dns.Fqdn(name)
		z, err := loadZoneFile(apex, zc)
		if err != nil {
			log.Printf("ParseZones: zone %s: %v", apex, err)
			if existing, ok := reg.Get(apex); ok {
				existing.SetError(RefreshError, "%v", err)
				loaded = append(loaded, apex)
			}
			continue
		}

		z.ACL = convertACL(zc.ACL)
		if db := conf.Internal.MetaDB; db != nil {
			if err := db.PersistACL(apex, z.ACL); err != nil {
				log.Printf("ParseZones: zone %s: persisting ACL to metadata store: %v", apex, err)
			}
		}
		z.Options = make(map[ZoneOption]bool)
		for _, opt := range zc.Options {
			if zo, ok := StringToZoneOption[opt]; ok {
				z.Options[zo] = true
			}
		}
		if zc.NSEC3 != nil {
			if err := attachNSEC3(z, zc.NSEC3); err != nil {
				log.Printf("ParseZones: zone %s: NSEC3 setup failed: %v", apex, err)
			}
		}

		if err := ReplayDifflog(conf, z); err != nil {
			log.Printf("ParseZones: zone %s: %v", apex, err)
		}

		reg.Set(z)
		loaded = append(loaded, apex)
		if !reload {
			log.Printf("ParseZones: loaded zone %s from %s", apex, zc.Zonefile)
		}
	}
	return loaded, nil
}

func convertACL(entries []ACLConfEntry) []ACLEntry {
	out := make([]ACLEntry, 0, len(entries))
	for _, e := range entries {
		match := e.Net
		if e.Key != "" {
			match = "key:" + e.Key
		}
		out = append(out, ACLEntry{
			Match:   match,
			Action:  ACLQuery,
			Verdict: ACLVerdict(e.Action),
		})
	}
	return out
}

// LoadZoneFile loads apex from zonefile outside of the daemon's
// config-driven path, for tooling (authdogctl zone dump, notify) that
// needs a zone's in-memory shape without running the server.
func LoadZoneFile(apex, zonefile string) (*Zone, error) {
	return loadZoneFile(dns.Fqdn(apex), ZoneConf{Name: apex, Zonefile: zonefile})
}

// loadZoneFile reads a RFC 1035 master file with miekg/dns's
// ZoneParser and populates a new Zone arena from it, one RR at a time
// through Zone.AddRR — the same apply-side path a difflog replay uses
// (§4.6.2), so a zone built from a fresh zonefile and one rebuilt from
// its diff log end up in identical shape.
func loadZoneFile(apex string, zc ZoneConf) (*Zone, error) {
	f, err := os.Open(zc.Zonefile)
	if err != nil {
		return nil, fmt.Errorf("opening zonefile: %w", err)
	}
	defer f.Close()

	z := NewZone(apex)
	zp := dns.NewZoneParser(f, apex, zc.Zonefile)
	zp.SetIncludeAllowed(true)

	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		rr.Header().Name = dns.Fqdn(rr.Header().Name)
		z.AddRR(rr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parsing zonefile: %w", err)
	}
	z.RebuildOrder()
	return z, nil
}

// attachNSEC3 stores the configured NSEC3 parameters and indexes every
// domain that owns an NSEC3 RRset by its first label (the owner hash,
// upper-cased to match nsec3.Hash), building the chain used by FindCover.
// It does not touch z.IsSecure: per §3.3, is_secure depends only on
// whether the apex SOA RRset carries an RRSIG (see refreshSOACache),
// independent of whether the zone also uses NSEC3 instead of flat NSEC.
func attachNSEC3(z *Zone, nc *NSEC3Conf) error {
	salt, err := decodeSaltHex(nc.Salt)
	if err != nil {
		return err
	}
	params := &NSEC3Params{
		Algorithm:   nc.Algorithm,
		Iterations:  nc.Iterations,
		Salt:        salt,
		OwnerByHash: make(map[string]string),
	}
	for _, d := range z.Domains {
		if _, ok := d.RRtypes.Get(dns.TypeNSEC3); !ok {
			continue
		}
		n, err := NameFromString(d.Name)
		if err != nil || n.LabelCount() == 0 {
			continue
		}
		h := strings.ToUpper(string(n.LabelAt(0)[1:]))
		params.OwnerByHash[h] = d.Name
		params.SortedHashes = append(params.SortedHashes, h)
	}
	sort.Strings(params.SortedHashes)
	z.NSEC3 = params
	return nil
}

func decodeSaltHex(s string) ([]byte, error) {
	if s == "" || s == "-" {
		return nil, nil
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid salt hex: %w", err)
		}
		out[i] = byte(v)
	}
	return out, nil
}
