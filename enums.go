/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */
package authdns

// ZoneOption is a per-zone behavioural flag set from zones.yaml (§3.3).
type ZoneOption uint8

const (
	OptAllowUpdates ZoneOption = iota + 1
	OptFoldCase
	OptFrozen
	OptDirty
	OptAutomaticZone
)

var ZoneOptionToString = map[ZoneOption]string{
	OptAllowUpdates:  "allow-updates",
	OptFoldCase:      "fold-case",
	OptFrozen:        "frozen",
	OptDirty:         "dirty",
	OptAutomaticZone: "automatic-zone",
}

var StringToZoneOption = map[string]ZoneOption{
	"allow-updates":  OptAllowUpdates,
	"fold-case":      OptFoldCase,
	"frozen":         OptFrozen,
	"dirty":          OptDirty,
	"automatic-zone": OptAutomaticZone,
}

// ErrorType classifies a zone's last recorded operational error.
type ErrorType uint8

const (
	NoError ErrorType = iota
	ConfigError
	RefreshError
	DifflogError
)

var ErrorTypeToString = map[ErrorType]string{
	ConfigError:  "config",
	RefreshError: "refresh",
	DifflogError: "difflog",
}
