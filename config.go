/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package authdns

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level daemon configuration, unmarshalled from
// authdns.yaml by viper (§2 ambient stack).
type Config struct {
	App       AppDetails
	Service   ServiceConf
	DnsEngine DnsEngineConf
	Apiserver ApiserverConf
	Difflog   DifflogConf
	Zones     map[string]ZoneConf
	Db        DbConf
	Log       struct {
		File string `validate:"required"`
	}
	Internal InternalConf
}

type AppDetails struct {
	Name             string
	Version          string
	Mode             string
	Date             string
	ServerBootTime   time.Time
	ServerConfigTime time.Time
}

type ServiceConf struct {
	Name    string `validate:"required"`
	Debug   *bool
	Verbose *bool
}

// DnsEngineConf lists the Do53 listen addresses (§1: network acceptor
// loops are the caller's concern, but the daemon still needs to know
// what to bind).
type DnsEngineConf struct {
	Addresses  []string `validate:"required"`
	MaxUDPSize uint16   // server-configured EDNS0 payload ceiling (§4.4.1); 0 means DefaultMaxUDPSize
}

type ApiserverConf struct {
	Addresses []string `validate:"required"`
	ApiKey    string   `validate:"required"`
	UseTLS    bool
}

// DifflogConf locates the on-disk differential-update log (§4.6) and
// the snapshot file whose magic and CRC32 VerifyDifflogSnapshot checks
// at startup.
type DifflogConf struct {
	Directory    string `validate:"required"`
	SnapshotFile string
}

type DbConf struct {
	File string
}

// ZoneConf describes one served zone as configured in zones.yaml:
// its master zone file, ACL rules, and behavioural options.
type ZoneConf struct {
	Name     string `validate:"required"`
	Zonefile string `validate:"required,file"`
	Store    string // "xfr" or "slave", reserved for future use
	ACL      []ACLConfEntry
	Options  []string
	NSEC3    *NSEC3Conf
}

type ACLConfEntry struct {
	Net    string `validate:"required"`
	Action string `validate:"required,oneof=allow deny"`
	Key    string
}

type NSEC3Conf struct {
	Algorithm  uint8
	Iterations uint16
	Salt       string
}

type InternalConf struct {
	CfgFile       string
	ZonesCfgFile  string
	StopCh        chan struct{}
	APIStopCh     chan struct{}
	RefreshZoneCh chan string
	MetaDB        *MetaDB // sqlite store opened from Db.File, nil if unconfigured
	Stats         *Stats  // nil only when ParseZones runs outside the daemon (e.g. authdogctl)
}

func ValidateConfig(v *viper.Viper, cfgfile string) error {
	var config Config

	if v == nil {
		if err := viper.Unmarshal(&config); err != nil {
			log.Fatalf("ValidateConfig: Unmarshal error: %v", err)
		}
	} else {
		if err := v.Unmarshal(&config); err != nil {
			log.Fatalf("ValidateConfig: Unmarshal error: %v", err)
		}
	}

	configsections := map[string]interface{}{
		"log":       config.Log,
		"service":   config.Service,
		"db":        config.Db,
		"apiserver": config.Apiserver,
		"dnsengine": config.DnsEngine,
	}

	if err := ValidateBySection(&config, configsections, cfgfile); err != nil {
		log.Fatalf("Config %q is missing required attributes:\n%v\n", cfgfile, err)
	}
	return nil
}

func ValidateZones(c *Config, cfgfile string) error {
	zones := make(map[string]interface{}, len(c.Zones))
	for zname, val := range c.Zones {
		zones["zone:"+zname] = val
	}
	if err := ValidateBySection(c, zones, cfgfile); err != nil {
		log.Fatalf("Config %q is missing required attributes:\n%v\n", cfgfile, err)
	}
	return nil
}

func ValidateBySection(config *Config, configsections map[string]interface{}, cfgfile string) error {
	validate := validator.New()

	for k, data := range configsections {
		log.Printf("%s: validating config section %s", strings.ToUpper(config.App.Name), k)
		if err := validate.Struct(data); err != nil {
			log.Fatalf("%s: config %s, section %s: missing required attributes:\n%v\n",
				strings.ToUpper(config.App.Name), cfgfile, k, err)
		}
	}
	return nil
}

func (conf *Config) ReloadConfig() (string, error) {
	err := conf.ParseConfig(true)
	if err != nil {
		log.Printf("Error parsing config: %v", err)
	}
	conf.App.ServerConfigTime = time.Now()
	return "Config reloaded.", err
}

func (conf *Config) ReloadZoneConfig(reg *Registry) (string, error) {
	prezones := reg.Keys()
	zonelist, err := conf.ParseZones(reg, true)
	if err != nil {
		log.Printf("ReloadZoneConfig: error parsing zones: %v", err)
	}

	present := make(map[string]bool, len(zonelist))
	for _, z := range zonelist {
		present[z] = true
	}
	for _, zname := range prezones {
		if present[zname] {
			continue
		}
		z, ok := reg.Get(zname)
		if ok && z.Options[OptAutomaticZone] {
			log.Printf("ReloadZoneConfig: zone %s is automatic, not removing", zname)
			continue
		}
		log.Printf("ReloadZoneConfig: zone %s no longer configured, removing", zname)
		reg.Remove(zname)
	}

	conf.App.ServerConfigTime = time.Now()
	return fmt.Sprintf("Zones reloaded. Before: %v, After: %v", prezones, zonelist), err
}
