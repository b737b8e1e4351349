/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package authdns

import (
	"context"
	"log"
	"time"

	"github.com/miekg/dns"
)

// DnsEngine starts the Do53 (UDP+TCP) listeners named in conf and
// serves them with handler until ctx is cancelled, mirroring the
// teacher's DnsEngine address/server bookkeeping with the DoT/DoH/DoQ
// and multi-transport negotiation this server does not carry (§1:
// network acceptor loops and modern transports are out of scope).
//
// When conf.Internal.MetaDB is set, its TSIG keys are loaded into
// every listener's TsigSecret map so miekg/dns verifies signed
// requests before they reach handler; ServeDNS reports the outcome
// via w.TsigStatus().
func DnsEngine(ctx context.Context, conf *Config, handler *Handler) error {
	log.Printf("DnsEngine: starting on addresses: %v", conf.DnsEngine.Addresses)

	var tsigSecrets map[string]string
	if db := conf.Internal.MetaDB; db != nil {
		secrets, err := db.TSIGSecrets()
		if err != nil {
			log.Printf("DnsEngine: loading TSIG secrets: %v", err)
		} else {
			tsigSecrets = secrets
			log.Printf("DnsEngine: loaded %d TSIG key(s) from metadata store", len(secrets))
		}
	}

	var servers []*dns.Server
	for _, addr := range conf.DnsEngine.Addresses {
		for _, transport := range []string{"udp", "tcp"} {
			srv := &dns.Server{
				Addr:       addr,
				Net:        transport,
				Handler:    handler,
				TsigSecret: tsigSecrets,
			}
			if transport == "udp" {
				srv.UDPSize = dns.DefaultMsgSize
			}
			servers = append(servers, srv)

			go func(s *dns.Server, addr, transport string) {
				log.Printf("DnsEngine: serving on %s (%s)", addr, transport)
				if err := s.ListenAndServe(); err != nil {
					log.Printf("DnsEngine: %s server on %s failed: %v", transport, addr, err)
				}
			}(srv, addr, transport)
		}
	}

	go func() {
		<-ctx.Done()
		log.Printf("DnsEngine: shutting down Do53 servers")
		for _, s := range servers {
			done := make(chan struct{})
			go func(srv *dns.Server) {
				_ = srv.Shutdown()
				close(done)
			}(s)
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Printf("DnsEngine: timeout shutting down %s/%s", s.Addr, s.Net)
			}
		}
	}()

	return nil
}
