// Package main: aggregator service.
//
// The aggregator runs the pipeline on a fixed interval, persists every
// snapshot to the database and publishes newly seen transfers to the message
// broker. It shares the database with the dashboard service, which seeds its
// cache from the snapshots written here.
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
	"github.com/0xFannie/gmt-pay-dashboard/lib/analytics"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/config"
	"github.com/0xFannie/gmt-pay-dashboard/lib/msg"
	"github.com/0xFannie/gmt-pay-dashboard/lib/msg/amqp"
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

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DBConn)
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

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}

		defer func() {
			errClose := mb.Close()
			log.Printf("Closing messageBroker: %e", errClose)
		}()
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	p := aggregator.NewPipeline(reg, adapters, rates, time.Duration(conf.HistoryDays)*24*time.Hour)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		cancel()
	}()

	// resume from the last persisted snapshot
	var prev *store.Snapshot

	if dbConn != nil {
		snap, errLoad := dbConn.LoadSnapshot(ctx)

		switch {
		case errLoad == nil:
			prev = snap
			log.Printf("Resuming from snapshot of %s (%d transfers)", snap.Taken, len(snap.Txs))
		case errors.Is(errLoad, store.ErrNoSnapshot):
			log.Print("No persisted snapshot, starting cold")
		default:
			log.Printf("Error loading snapshot from DB:%e", errLoad)
		}
	}

	// aggregate on the refresh interval until killed
	t := time.NewTicker(time.Duration(conf.RefreshMin) * time.Minute)
	defer t.Stop()

	for {
		snap, errRun := p.Run(ctx, prev)
		if errRun != nil {
			log.Printf("Aggregation run failed:%e", errRun)
		} else {
			// publish fresh transfers per chain
			if mb != nil {
				publish(mb, aggregator.Diff(prev, snap))
			}

			if dbConn != nil {
				if errSave := dbConn.SaveSnapshot(ctx, snap); errSave != nil {
					log.Printf("Error saving snapshot to DB:%e", errSave)
				}
			}

			prev = snap
			log.Printf("Snapshot taken at %s with %d transfers (partial:%v)", snap.Taken, len(snap.Txs), snap.Partial)
		}

		select {
		case <-ctx.Done():
			if dbConn != nil {
				if errClose := dbConn.Close(); errClose != nil {
					log.Printf("Error disconnecting database:%e", errClose)
				}
			}

			log.Print("Aggregator: Done!")

			return
		case <-t.C:
		}
	}
}

// publish groups the fresh transfers by chain and sends them to the broker.
func publish(mb msg.MsgBroker, fresh []types.Transaction) {
	byChain := make(map[string][]types.Transaction)
	for _, tx := range fresh {
		byChain[tx.Chain] = append(byChain[tx.Chain], tx)
	}

	for c, txs := range byChain {
		if err := mb.SendTrans(c, txs); err != nil {
			log.Printf("[%s] Error publishing %d transfers:%e", c, len(txs), err)
		}
	}
}
