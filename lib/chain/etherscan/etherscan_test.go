package etherscan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/config"
	"github.com/0xFannie/gmt-pay-dashboard/lib/registry"
)

var watched = config.EVMAddrDefault

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, registry.Target, *httptest.Server) {
	t.Helper()

	reg, err := registry.New(config.DefaultTargets())
	if err != nil {
		t.Fatalf("cannot build registry: %v", err)
	}

	var target registry.Target
	for _, tg := range reg.Targets() {
		if tg.Chain == types.Ethereum {
			target = tg
		}
	}

	srv := httptest.NewServer(handler)
	cl := New(types.Ethereum, ChainIDEthereum, "TESTKEY", reg)
	cl.SetURL(srv.URL)

	return cl, target, srv
}

func TestFetchTransfers(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	old := now.Add(-48 * time.Hour)

	body := fmt.Sprintf(`{"status":"1","message":"OK","result":[
		{"timeStamp":"%d","hash":"0xh1","from":"0xAAA","to":"%s","contractAddress":"%s","value":"1500000000000000000","tokenSymbol":"GGUSD","tokenDecimal":"18"},
		{"timeStamp":"%d","hash":"0xh2","from":"0xBBB","to":"%s","contractAddress":"0x01","value":"1500000","tokenSymbol":"USDT","tokenDecimal":"6"},
		{"timeStamp":"%d","hash":"0xh3","from":"%s","to":"0xCCC","contractAddress":"0x01","value":"1000000","tokenSymbol":"USDT","tokenDecimal":"6"},
		{"timeStamp":"%d","hash":"0xh4","from":"0xDDD","to":"%s","contractAddress":"0x02","value":"1000000","tokenSymbol":"SHIB","tokenDecimal":"6"},
		{"timeStamp":"%d","hash":"0xh5","from":"0xEEE","to":"%s","contractAddress":"0x01","value":"1000000","tokenSymbol":"USDT","tokenDecimal":"6"}]}`,
		now.Unix(), watched, config.GGUSDContract,
		now.Unix(), watched,
		now.Unix(), watched,
		now.Unix(), watched,
		old.Unix(), watched)

	cl, target, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "tokentx" || r.URL.Query().Get("chainid") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, body)
	})
	defer srv.Close()

	txs, err := cl.FetchTransfers(context.Background(), target, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cannot fetch transfers: %v", err)
	}

	// h3 is an outflow, h4 an unaccepted token, h5 past the cutoff
	if len(txs) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(txs))
	}

	if txs[0].Token != "GGUSD" || txs[0].Amount.String() != "1.5" {
		t.Errorf("expected 1.5 GGUSD, got %s %s", txs[0].Amount, txs[0].Token)
	}

	if txs[1].Token != "USDT" || txs[1].Amount.String() != "1.5" {
		t.Errorf("expected 1.5 USDT, got %s %s", txs[1].Amount, txs[1].Token)
	}

	if txs[0].Key() != types.Ethereum+":0xh1" {
		t.Errorf("unexpected key %s", txs[0].Key())
	}
}

func TestFetchTransfersPaginates(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	pages := 0
	cl, target, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		pages++
		page := r.URL.Query().Get("page")
		if page == "1" {
			// a full page keeps the walk going
			fmt.Fprint(w, `{"status":"1","message":"OK","result":[`)
			for i := 0; i < pageSize; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"timeStamp":"%d","hash":"0xp%d","from":"0xAAA","to":"%s","contractAddress":"0x01","value":"1000000","tokenSymbol":"USDT","tokenDecimal":"6"}`,
					now.Unix(), i, watched)
			}
			fmt.Fprint(w, `]}`)
			return
		}
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	})
	defer srv.Close()

	txs, err := cl.FetchTransfers(context.Background(), target, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("cannot fetch transfers: %v", err)
	}

	if pages != 2 {
		t.Errorf("expected 2 page requests, got %d", pages)
	}

	if len(txs) != pageSize {
		t.Errorf("expected %d transfers, got %d", pageSize, len(txs))
	}
}

func TestFetchTransfersPageCap(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	// a full page every time, the walk must stop at the cap with its data
	var pageBody strings.Builder
	pageBody.WriteString(`{"status":"1","message":"OK","result":[`)
	for i := 0; i < pageSize; i++ {
		if i > 0 {
			pageBody.WriteString(",")
		}
		fmt.Fprintf(&pageBody, `{"timeStamp":"%d","hash":"0xp%d","from":"0xAAA","to":"%s","contractAddress":"0x01","value":"1000000","tokenSymbol":"USDT","tokenDecimal":"6"}`,
			now.Unix(), i, watched)
	}
	pageBody.WriteString(`]}`)

	pages := 0
	cl, target, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		pages++
		fmt.Fprint(w, pageBody.String())
	})
	defer srv.Close()

	txs, err := cl.FetchTransfers(context.Background(), target, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("cannot fetch transfers: %v", err)
	}

	if pages != maxPages {
		t.Errorf("expected the walk to stop at %d pages, got %d", maxPages, pages)
	}

	if len(txs) != maxPages*pageSize {
		t.Errorf("expected %d transfers kept at the cap, got %d", maxPages*pageSize, len(txs))
	}
}

func TestFetchTransfersErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    error
	}{
		{"rate limit", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`)
		}, types.ErrRateLimited},
		{"bad key", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`)
		}, types.ErrUnauthorized},
		{"http 429", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		}, types.ErrRateLimited},
		{"http 403", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}, types.ErrUnauthorized},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>not json</html>`)
		}, types.ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl, target, srv := newTestClient(t, tt.handler)
			defer srv.Close()

			_, err := cl.FetchTransfers(context.Background(), target, time.Now().Add(-time.Hour))
			if !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}

			var pe *types.ProviderError
			if !errors.As(err, &pe) || pe.Chain != types.Ethereum {
				t.Errorf("expected ProviderError for Ethereum, got %v", err)
			}

			if tt.name == "http 429" && pe.RetryAfter != 7*time.Second {
				t.Errorf("expected RetryAfter 7s, got %s", pe.RetryAfter)
			}
		})
	}
}

func TestFetchTransfersTimeout(t *testing.T) {
	cl, target, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cl.FetchTransfers(ctx, target, time.Now().Add(-time.Hour))
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
