// Package main: dashboard service.
//
// The dashboard hosts the snapshot cache and serves the RESTful API. When a
// database is configured, the cache is seeded from the last persisted
// snapshot so a restart does not begin with an empty view.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xFannie/gmt-pay-dashboard/aggregator"
	"github.com/0xFannie/gmt-pay-dashboard/dashboard"
	"github.com/0xFannie/gmt-pay-dashboard/lib/analytics"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain"
	"github.com/0xFannie/gmt-pay-dashboard/lib/config"
	"github.com/0xFannie/gmt-pay-dashboard/lib/registry"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store/db"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// build the watch-target registry
	reg, err := registry.New(conf.Targets)
	if err != nil {
		panic(err)
	}

	// load all chain adapters
	adapters, err := chain.Init(&conf, reg)
	if err != nil {
		panic(err)
	}

	log.Print("Chain adapters loaded")

	rates, err := analytics.RatesFrom(conf.Rates)
	if err != nil {
		panic(err)
	}

	tiers, err := analytics.TiersFrom(conf.Tiers)
	if err != nil {
		panic(err)
	}

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// build the pipeline and cache
	p := aggregator.NewPipeline(reg, adapters, rates, time.Duration(conf.HistoryDays)*24*time.Hour)
	cache := aggregator.NewCache(p, time.Duration(conf.TTLMin)*time.Minute)

	// seed the cache from the last persisted snapshot
	if conf.DBConn != "" {
		var dbConn store.DB

		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DBConn)

		snap, errLoad := dbConn.LoadSnapshot(context.Background())

		switch {
		case errLoad == nil:
			cache.Seed(snap)
			log.Printf("Cache seeded with snapshot from %s (%d transfers)", snap.Taken, len(snap.Txs))
		case errors.Is(errLoad, store.ErrNoSnapshot):
			log.Print("No persisted snapshot, starting cold")
		default:
			log.Printf("Error loading snapshot from DB:%e", errLoad)
		}

		if err = dbConn.Close(); err != nil {
			log.Printf("Error disconnecting database:%e", err)
		}
	}

	// keep the snapshot warm in the background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache.StartRefresher(ctx, time.Duration(conf.RefreshMin)*time.Minute)

	// create dashboard service
	d := dashboard.New(cache, reg, tiers)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		cancel()
		d.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Printf("Dashboard: %s\n", d.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
