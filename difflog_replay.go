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

	"github.com/authdns/authdns/difflog"
)

// ReplayDifflog replays zone's on-disk differential-update log against
// it (§4.6.2), called once per zone right after the zonefile snapshot
// it was built from is loaded. A missing log file is not an error — a
// freshly provisioned zone has none yet; the log is filled by the
// zone-transfer client process, which spec.md §1 treats as an external
// collaborator this core never writes to itself.
func ReplayDifflog(conf *Config, zone *Zone) error {
	if conf.Difflog.Directory == "" {
		return nil
	}
	path := difflogPath(conf, zone.ApexName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if n, err := difflog.SnipGarbage(path); err != nil {
		log.Printf("ReplayDifflog: %s: snip_garbage failed: %v", zone.ApexName, err)
	} else {
		log.Printf("ReplayDifflog: %s: log truncated to %d valid bytes", zone.ApexName, n)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening difflog for %s: %w", zone.ApexName, err)
	}
	defer f.Close()

	var onAxfrFallback func()
	if conf.Internal.Stats != nil {
		onAxfrFallback = func() { conf.Internal.Stats.StatIxfrFallbackToAxfr.Add(1) }
	}
	applied, err := difflog.ApplyWithFallbackHook(f, zone, onAxfrFallback)
	if err != nil {
		zone.SetError(DifflogError, "replaying difflog: %v", err)
		return fmt.Errorf("replaying difflog for %s: %w", zone.ApexName, err)
	}
	log.Printf("ReplayDifflog: %s: applied %d committed part(s), serial now %d",
		zone.ApexName, applied, zone.SOASerial())
	return nil
}

// difflogPath is the one place in the daemon that names a zone's log
// file on disk (authdogctl's "difflog show" takes the path as an argument).
func difflogPath(conf *Config, apex string) string {
	return filepath.Join(conf.Difflog.Directory, apex+"diff.log")
}

// VerifyDifflogSnapshot checks conf.Difflog.SnapshotFile's magic and
// CRC32 before ReplayDifflog is trusted (§4.6.3): if the snapshot was
// replaced out from under the server since it was loaded, the replay
// must be aborted rather than applied against stale in-memory state.
func VerifyDifflogSnapshot(conf *Config) error {
	if conf.Difflog.SnapshotFile == "" {
		return nil
	}
	if _, err := difflog.VerifySnapshot(conf.Difflog.SnapshotFile); err != nil {
		return fmt.Errorf("snapshot reconciliation failed: %w", err)
	}
	return nil
}
