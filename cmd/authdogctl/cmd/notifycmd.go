/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	authdns "github.com/authdns/authdns"
	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

var (
	notifyZone     string
	notifyZonefile string
	notifyPort     string
	notifyRetries  int
)

// notifyCmd is a tiny fire-and-forget NOTIFY sender to a zone's
// configured downstream servers (SPEC_FULL §4, grounded on NSD's
// nsd-notify.c: -z zone, -p port, a server list, and a bounded retry
// loop). spec.md excludes "the NOTIFY sender" as operational tooling,
// so it lives here rather than in the core, reaching the core only
// through Zone.SOASerial().
var notifyCmd = &cobra.Command{
	Use:   "notify <server>...",
	Short: "Send NOTIFY for a zone to one or more downstream servers",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if notifyZone == "" || notifyZonefile == "" {
			fmt.Println("Error: both --zone and --zonefile are required")
			os.Exit(1)
		}

		z, err := authdns.LoadZoneFile(notifyZone, notifyZonefile)
		if err != nil {
			fmt.Printf("Error loading zone %s: %v\n", notifyZone, err)
			os.Exit(1)
		}
		serial := z.SOASerial()
		qname := dns.Fqdn(notifyZone)

		m := new(dns.Msg)
		m.SetNotify(qname)
		m.Question = []dns.Question{{Name: qname, Qtype: dns.TypeSOA, Qclass: dns.ClassINET}}

		client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}

		for _, server := range args {
			addr := net.JoinHostPort(server, notifyPort)
			ok := false
			for attempt := 1; attempt <= notifyRetries; attempt++ {
				resp, _, err := client.Exchange(m, addr)
				if err == nil && resp != nil && resp.Rcode == dns.RcodeSuccess {
					ok = true
					break
				}
				if err != nil {
					fmt.Printf("notify %s: attempt %d/%d: %v\n", addr, attempt, notifyRetries, err)
				}
			}
			if ok {
				fmt.Printf("notify %s: acknowledged for zone %s serial %d\n", addr, qname, serial)
			} else {
				fmt.Printf("notify %s: no acknowledgement after %d attempt(s)\n", addr, notifyRetries)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.Flags().StringVarP(&notifyZone, "zone", "z", "", "Name of zone to notify for")
	notifyCmd.Flags().StringVar(&notifyZonefile, "zonefile", "", "Path to the zone's master file (for the current serial)")
	notifyCmd.Flags().StringVarP(&notifyPort, "port", "p", "53", "Port number of the downstream server")
	notifyCmd.Flags().IntVarP(&notifyRetries, "retries", "r", 6, "Number of NOTIFY attempts per server")
}
