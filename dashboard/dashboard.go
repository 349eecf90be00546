// Package dashboard implements the payment dashboard microservice.
//
// The dashboard serves a RESTful API over the snapshot cache: recent
// transfers, holder summaries, CSV exports and cache control. Reads never
// touch the chain providers directly, they go through the cache which
// refreshes on demand.
package dashboard

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/0xFannie/gmt-pay-dashboard/aggregator"
	"github.com/0xFannie/gmt-pay-dashboard/lib/analytics"
	"github.com/0xFannie/gmt-pay-dashboard/lib/registry"
)

// Dashboard contains the data necessary to deliver the service
type Dashboard struct {
	cache   *aggregator.Cache
	reg     *registry.Registry
	tiers   []analytics.Tier
	started time.Time
	s       *http.Server  // http server
	ss      *http.Server  // https server
	sc      chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Dashboard service
func New(cache *aggregator.Cache, reg *registry.Registry, tiers []analytics.Tier) *Dashboard {
	return &Dashboard{
		cache:   cache,
		reg:     reg,
		tiers:   tiers,
		started: time.Now().UTC(),
	}
}

// Stop shuts down the http servers implementing the RESTful API.
func (d *Dashboard) Stop() {
	var err error

	if d.s != nil {
		if err = d.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}

	if d.ss != nil {
		if err = d.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}

	close(d.sc) // close server channels to indicate shutdowns have finished
}
