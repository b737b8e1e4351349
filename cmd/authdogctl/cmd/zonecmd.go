/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package cmd

import (
	"fmt"
	"os"

	authdns "github.com/authdns/authdns"
	"github.com/gookit/goutil/dump"
	"github.com/spf13/cobra"
)

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Zone-related operator commands",
}

// zoneDumpCmd loads a zonefile the same way the daemon does and
// pretty-prints its in-memory shape, grounded on the teacher's
// commented-out dump.P(apex) calls in dnsutils.go/rrset_cache.go
// (here actually wired rather than left commented out, per SPEC_FULL
// §3).
var zoneDumpCmd = &cobra.Command{
	Use:   "dump <apex> <zonefile>",
	Short: "Load a zonefile and dump its in-memory domain arena",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		apex, zonefile := args[0], args[1]
		z, err := authdns.LoadZoneFile(apex, zonefile)
		if err != nil {
			fmt.Printf("Error loading zone %s from %s: %v\n", apex, zonefile, err)
			os.Exit(1)
		}

		fmt.Printf("zone %s: %d domain(s), serial %d, secure=%v\n",
			z.ApexName, len(z.Domains), z.SOASerial(), z.IsSecure)

		for _, d := range z.Domains {
			fmt.Printf("--- %s ---\n", d.Name)
			for _, rrt := range d.RRtypes.Keys() {
				rrset, _ := d.RRtypes.Get(rrt)
				dump.P(rrset)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(zoneCmd)
	zoneCmd.AddCommand(zoneDumpCmd)
}
