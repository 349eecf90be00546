package dashboard

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/0xFannie/gmt-pay-dashboard/lib/analytics"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store"
	"github.com/0xFannie/gmt-pay-dashboard/lib/util"
)

// Errors returned to client requests.
var (
	ErrBadChain = errors.New("unknown chain - query: ?chain=<name>")
	ErrBadToken = errors.New("unknown token - query: ?token=<symbol>")
	ErrNoAddr   = errors.New("undefined address - missing in uri")
	ErrNoHolder = errors.New("holder not found")
	ErrNotReady = errors.New("no snapshot available yet")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// homeHandler just replies a welcome message to the client.
func (d *Dashboard) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	res.Body = "Hello, this is your on-chain payment dashboard!"
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// chains returns the chain names of all watch targets.
func (d *Dashboard) chains() []string {
	var cs []string
	for _, t := range d.reg.Targets() {
		if !util.In(cs, t.Chain) {
			cs = append(cs, t.Chain)
		}
	}

	return cs
}

// filter narrows the transfer set to the requested chain and token. Empty
// values mean no filtering.
func filter(txs []types.Transaction, chain, token string) []types.Transaction {
	out := make([]types.Transaction, 0, len(txs))

	for _, tx := range txs {
		if chain != "" && tx.Chain != chain {
			continue
		}

		if token != "" && tx.Token != token {
			continue
		}

		out = append(out, tx)
	}

	return out
}

// txHandler replies the aggregated transfers, optionally filtered by chain
// and token.
func (d *Dashboard) txHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var txs []types.Transaction

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(txs)
			res.Body = string(tmp)
		}
		// log request
		log.Printf("httpreq from %v %s txs:%d err:%e\n", r.RemoteAddr, r.RequestURI, len(txs), err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	// parse request
	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		return
	}

	var chain, token string

	if tmp, ok := r.Form["chain"]; ok {
		if chain = tmp[0]; !util.In(d.chains(), chain) {
			err = ErrBadChain

			return
		}
	}

	if tmp, ok := r.Form["token"]; ok {
		token = strings.ToUpper(tmp[0])
	}

	var snap *store.Snapshot

	if snap, err = d.cache.Get(r.Context()); err != nil {
		return
	}

	txs = filter(snap.Txs, chain, token)
}

// holdersHandler replies the per-holder summaries, largest total first.
func (d *Dashboard) holdersHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var holders []analytics.HolderSummary

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(holders)
			res.Body = string(tmp)
		}
		// log request
		log.Printf("httpreq from %v %s holders:%d err:%e\n", r.RemoteAddr, r.RequestURI, len(holders), err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		return
	}

	var chain string

	if tmp, ok := r.Form["chain"]; ok {
		if chain = tmp[0]; !util.In(d.chains(), chain) {
			err = ErrBadChain

			return
		}
	}

	var snap *store.Snapshot

	if snap, err = d.cache.Get(r.Context()); err != nil {
		return
	}

	sums := analytics.Summarize(filter(snap.Txs, chain, ""), d.tiers)
	for _, h := range sums {
		holders = append(holders, h)
	}

	sort.Slice(holders, func(i, j int) bool {
		if !holders[i].TotalUSD.Equal(holders[j].TotalUSD) {
			return holders[i].TotalUSD.GreaterThan(holders[j].TotalUSD)
		}

		return holders[i].Address < holders[j].Address
	})
}

// holderHandler replies the summary of a single holder address.
func (d *Dashboard) holderHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var holder analytics.HolderSummary

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			if errors.Is(err, ErrNoHolder) {
				rw.WriteHeader(http.StatusNotFound)
			} else {
				rw.WriteHeader(http.StatusBadRequest)
			}
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(holder)
			res.Body = string(tmp)
		}
		// log request
		log.Printf("httpreq from %v %s holder:%s err:%e\n", r.RemoteAddr, r.RequestURI, holder.Address, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)

	address, ok := v["address"]
	if !ok {
		err = ErrNoAddr

		return
	}

	var snap *store.Snapshot

	if snap, err = d.cache.Get(r.Context()); err != nil {
		return
	}

	sums := analytics.Summarize(snap.Txs, d.tiers)

	// EVM senders are stored lowercase, Solana accounts are case sensitive
	holder, ok = sums[strings.ToLower(address)]
	if !ok {
		holder, ok = sums[address]
	}

	if !ok {
		err = ErrNoHolder
	}
}

// target is the client view of a watch target.
type target struct {
	Chain   string   `json:"chain"`
	Address string   `json:"address"`
	Tokens  []string `json:"tokens"`
}

// targetsHandler replies the watched targets and their accepted tokens.
func (d *Dashboard) targetsHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response

	var ts []target

	for _, t := range d.reg.Targets() {
		toks := make([]string, 0, len(t.Tokens))
		for _, tok := range t.Tokens {
			toks = append(toks, tok.Symbol)
		}

		ts = append(ts, target{Chain: t.Chain, Address: t.Address, Tokens: toks})
	}

	rw.WriteHeader(http.StatusOK)
	tmp, _ := json.Marshal(ts)
	res.Body = string(tmp)
	// log request
	log.Printf("httpreq from %v %s targets:%d\n", r.RemoteAddr, r.RequestURI, len(ts))
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(&res)
}

// status is the client view of the cached snapshot.
type status struct {
	Taken     string            `json:"taken,omitempty"`
	Since     string            `json:"since,omitempty"`
	Partial   bool              `json:"partial"`
	Failed    []string          `json:"failed,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Transfers int               `json:"transfers"`
	Chains    []string          `json:"chains"`
	Uptime    string            `json:"uptime"`
}

// statusHandler replies the state of the cached snapshot without triggering a
// refresh.
func (d *Dashboard) statusHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response

	st := status{
		Chains: d.chains(),
		Uptime: time.Since(d.started).String(),
	}

	if snap := d.cache.Snapshot(); snap != nil {
		st.Taken = snap.Taken.Format(time.RFC3339)
		st.Since = snap.Since.Format(time.RFC3339)
		st.Partial = snap.Partial
		st.Failed = snap.Failed
		st.Errors = snap.Errors
		st.Transfers = len(snap.Txs)
	}

	rw.WriteHeader(http.StatusOK)
	tmp, _ := json.Marshal(st)
	res.Body = string(tmp)
	// log request
	log.Printf("httpreq from %v %s status:%+v\n", r.RemoteAddr, r.RequestURI, st)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(&res)
}

// refreshHandler forces a pipeline run regardless of the snapshot's age.
func (d *Dashboard) refreshHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var snap *store.Snapshot

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadGateway)
		} else {
			rw.WriteHeader(http.StatusAccepted)
			tmp, _ := json.Marshal(status{
				Taken:     snap.Taken.Format(time.RFC3339),
				Partial:   snap.Partial,
				Failed:    snap.Failed,
				Transfers: len(snap.Txs),
			})
			res.Body = string(tmp)
		}
		// log request
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	snap, err = d.cache.Refresh(r.Context())
}

// exportHandler streams the aggregated transfers as a CSV download.
func (d *Dashboard) exportHandler(rw http.ResponseWriter, r *http.Request) {
	snap, err := d.cache.Get(r.Context())
	if err != nil {
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)

		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		rw.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(rw).Encode(&Response{Error: fmt.Sprintf("%s", err)})

		return
	}

	rw.Header().Set("Content-Type", "text/csv;charset=utf8")
	rw.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	rw.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(rw)
	_ = cw.Write([]string{"chain", "token", "from", "to", "amount", "usd", "card_value", "hash", "timestamp"})

	for _, tx := range snap.Txs {
		_ = cw.Write([]string{
			tx.Chain,
			tx.Token,
			tx.From,
			tx.To,
			tx.Amount.String(),
			tx.USD.String(),
			fmt.Sprintf("%d", tx.CardValue),
			tx.Hash,
			tx.TS.Format(time.RFC3339),
		})
	}

	cw.Flush()
	log.Printf("httpreq from %v %s exported:%d\n", r.RemoteAddr, r.RequestURI, len(snap.Txs))
}
