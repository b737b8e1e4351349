/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package cmd

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

var (
	queryServer string
	queryPort   string
	queryDNSSEC bool
	queryTCP    bool
	queryShort  bool
)

// queryCmd sends one query and prints the response, the way the
// teacher's dog tool does, trimmed to the Do53 transport this server
// actually speaks (no DoT/DoH/DoQ client code — those transports are
// the daemon's own non-goal too, per SPEC_FULL §6).
var queryCmd = &cobra.Command{
	Use:   "query <name> [type|IXFR=<serial>]",
	Short: "Send a DNS query to a server and print the response",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		qname := dns.Fqdn(args[0])
		qtype := dns.TypeA
		var ixfrSerial uint32
		isIxfr := false

		if len(args) > 1 {
			ucarg := strings.ToUpper(args[1])
			if strings.HasPrefix(ucarg, "IXFR=") {
				serialStr := strings.TrimPrefix(ucarg, "IXFR=")
				n, err := strconv.Atoi(serialStr)
				if err != nil {
					fmt.Printf("Error: invalid IXFR serial %q: %v\n", serialStr, err)
					os.Exit(1)
				}
				ixfrSerial = uint32(n)
				isIxfr = true
				qtype = dns.TypeIXFR
			} else if t, ok := dns.StringToType[ucarg]; ok {
				qtype = t
			} else {
				fmt.Printf("Error: unknown RR type %q\n", args[1])
				os.Exit(1)
			}
		}

		if queryServer == "" {
			fmt.Println("Error: no server specified, use -s/--server")
			os.Exit(1)
		}
		addr := net.JoinHostPort(queryServer, queryPort)

		if qtype == dns.TypeAXFR || qtype == dns.TypeIXFR {
			runTransfer(qname, addr, qtype, ixfrSerial, isIxfr)
			return
		}

		m := new(dns.Msg)
		m.SetQuestion(qname, qtype)
		m.SetEdns0(dns.DefaultMsgSize, queryDNSSEC)

		client := &dns.Client{Net: map[bool]string{true: "tcp", false: "udp"}[queryTCP]}
		start := time.Now()
		resp, _, err := client.Exchange(m, addr)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("Error from %s: %v\n", addr, err)
			os.Exit(1)
		}
		printResponse(resp, addr, elapsed)
	},
}

func printResponse(resp *dns.Msg, server string, elapsed time.Duration) {
	fmt.Printf(";; Got answer from %s in %v\n", server, elapsed)
	fmt.Printf(";; ->>HEADER<<- opcode: %s, status: %s, id: %d\n",
		dns.OpcodeToString[resp.Opcode], dns.RcodeToString[resp.Rcode], resp.Id)
	fmt.Printf(";; flags: qr:%v aa:%v tc:%v rd:%v ra:%v; QUERY: %d, ANSWER: %d, AUTHORITY: %d, ADDITIONAL: %d\n",
		resp.Response, resp.Authoritative, resp.Truncated, resp.RecursionDesired, resp.RecursionAvailable,
		len(resp.Question), len(resp.Answer), len(resp.Ns), len(resp.Extra))

	if queryShort {
		for _, rr := range resp.Answer {
			fmt.Println(rr.String())
		}
		return
	}

	if len(resp.Question) > 0 {
		fmt.Println("\n;; QUESTION SECTION:")
		fmt.Printf(";%s\n", resp.Question[0].String())
	}
	printSection("ANSWER", resp.Answer)
	printSection("AUTHORITY", resp.Ns)
	printSection("ADDITIONAL", resp.Extra)
}

func printSection(name string, rrs []dns.RR) {
	if len(rrs) == 0 {
		return
	}
	fmt.Printf("\n;; %s SECTION:\n", name)
	for _, rr := range rrs {
		fmt.Println(rr.String())
	}
}

// runTransfer streams an AXFR or IXFR using miekg/dns's dns.Transfer,
// mirroring the teacher's ZoneTransferPrint.
func runTransfer(qname, addr string, qtype uint16, ixfrSerial uint32, isIxfr bool) {
	m := new(dns.Msg)
	if isIxfr {
		m.SetIxfr(qname, ixfrSerial, "", "")
	} else {
		m.SetAxfr(qname)
	}

	tr := new(dns.Transfer)
	env, err := tr.In(m, addr)
	if err != nil {
		fmt.Printf("Error starting transfer from %s: %v\n", addr, err)
		os.Exit(1)
	}

	total := 0
	for e := range env {
		if e.Error != nil {
			fmt.Printf("Transfer error: %v\n", e.Error)
			os.Exit(1)
		}
		for _, rr := range e.RR {
			fmt.Println(rr.String())
			total++
		}
	}
	fmt.Printf(";; Received %d records via %s\n", total, dns.TypeToString[qtype])
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryServer, "server", "s", "", "Server to query")
	queryCmd.Flags().StringVarP(&queryPort, "port", "p", "53", "Port to query")
	queryCmd.Flags().BoolVar(&queryDNSSEC, "dnssec", false, "Set the DO bit")
	queryCmd.Flags().BoolVar(&queryTCP, "tcp", false, "Use TCP instead of UDP")
	queryCmd.Flags().BoolVar(&queryShort, "short", false, "Only print the answer section")
}
