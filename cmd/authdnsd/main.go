/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"

	authdns "github.com/authdns/authdns"
)

var appVersion string

// mainloop dispatches process signals the way the teacher's tdnsd
// mainloop does: SIGHUP forces a zone-config reload, SIGINT/SIGTERM
// cancel the server context and let every engine shut down cleanly.
func mainloop(cancel context.CancelFunc, conf *authdns.Config, reg *authdns.Registry) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-exit:
				log.Println("mainloop: exit signal received, shutting down")
				cancel()
				return
			case <-hup:
				log.Println("mainloop: SIGHUP received, reloading zone configuration")
				if _, err := conf.ReloadZoneConfig(reg); err != nil {
					log.Printf("mainloop: zone reload failed: %v", err)
				}
			}
		}
	}()
	wg.Wait()
}

func main() {
	cfgfile := flag.String("config", authdns.DefaultServerCfgFile, "path to server config file")
	flag.Parse()

	var conf authdns.Config
	conf.Internal.CfgFile = *cfgfile
	conf.App = authdns.AppDetails{Name: "authdnsd", Version: appVersion}

	if err := conf.ParseConfig(false); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if err := authdns.SetupLogging(conf.Log.File); err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	fmt.Printf("authdnsd %s starting, logging to %s\n", appVersion, conf.Log.File)

	if err := authdns.VerifyDifflogSnapshot(&conf); err != nil {
		log.Fatalf("error verifying difflog snapshot: %v", err)
	}

	if conf.Db.File != "" {
		db, err := authdns.NewMetaDB(conf.Db.File)
		if err != nil {
			log.Fatalf("error opening metadata store: %v", err)
		}
		conf.Internal.MetaDB = db
	}

	stats := authdns.NewStats()
	conf.Internal.Stats = stats

	reg := authdns.NewRegistry()
	if _, err := conf.ParseZones(reg, false); err != nil {
		log.Fatalf("error parsing zones: %v", err)
	}

	handler := authdns.NewHandler(reg, stats, conf.DnsEngine.MaxUDPSize)
	for _, z := range []string{"id.server.", "hostname.bind.", "version.server.", "version.bind."} {
		handler.CHReplies[z] = conf.App.Name
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := authdns.DnsEngine(ctx, &conf, handler); err != nil {
		log.Fatalf("error starting DNS engine: %v", err)
	}

	go serveStats(ctx, &conf, stats)

	mainloop(cancel, &conf, reg)
}

// serveStats exposes the stats snapshot (§6.4) over a small gorilla/mux
// router, the way the teacher's APIdispatcher exposes its API surface.
func serveStats(ctx context.Context, conf *authdns.Config, stats *authdns.Stats) {
	if len(conf.Apiserver.Addresses) == 0 {
		return
	}
	r := mux.NewRouter()
	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats.Snapshot()); err != nil {
			log.Printf("serveStats: encoding snapshot: %v", err)
		}
	})

	srv := &http.Server{Addr: conf.Apiserver.Addresses[0], Handler: r}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("serveStats: %v", err)
	}
}
