package dashboard

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// router builds the route table of the RESTful API.
func (d *Dashboard) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", d.homeHandler)
	r.HandleFunc("/transactions", d.txHandler).Methods("GET")          // get aggregated transfers
	r.HandleFunc("/holders", d.holdersHandler).Methods("GET")          // get per-holder summaries
	r.HandleFunc("/holders/{address}", d.holderHandler).Methods("GET") // get one holder summary
	r.HandleFunc("/targets", d.targetsHandler).Methods("GET")          // get watched targets
	r.HandleFunc("/status", d.statusHandler).Methods("GET")            // get snapshot status
	r.HandleFunc("/refresh", d.refreshHandler).Methods("POST")         // force a refresh
	r.HandleFunc("/export", d.exportHandler).Methods("GET")            // download transfers as CSV

	return r
}

// Init sets up and starts the http/https server to service the RESTful API for the dashboard service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (d *Dashboard) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := d.router()
	http.Handle("/", r)

	// setup shutdown channel
	d.sc = make(chan struct{})

	// start http server
	if port != "" {
		d.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = d.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		d.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = d.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-d.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
