package helius

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

var watched = config.SolAddrDefault

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, registry.Target, *httptest.Server) {
	t.Helper()

	reg, err := registry.New(config.DefaultTargets())
	if err != nil {
		t.Fatalf("cannot build registry: %v", err)
	}

	var target registry.Target
	for _, tg := range reg.Targets() {
		if tg.Chain == types.Solana {
			target = tg
		}
	}

	srv := httptest.NewServer(handler)
	cl := New("TESTKEY", reg)
	cl.SetURL(srv.URL)

	return cl, target, srv
}

func TestFetchTransfers(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	body := fmt.Sprintf(`[
		{"signature":"sig1","timestamp":%d,"tokenTransfers":[
			{"fromUserAccount":"Payer1","toUserAccount":"%s","mint":"%s","tokenAmount":1.5}]},
		{"signature":"sig2","timestamp":%d,"tokenTransfers":[
			{"fromUserAccount":"Payer2","toUserAccount":"SomebodyElse","mint":"%s","tokenAmount":9},
			{"fromUserAccount":"Payer2","toUserAccount":"%s","mint":"BadMint1111111111111111111111111111111111111","tokenAmount":3}]},
		{"signature":"sig3","timestamp":%d,"tokenTransfers":[
			{"fromUserAccount":"Payer3","toUserAccount":"%s","mint":"%s","tokenAmount":25}]}]`,
		now.Unix(), watched, config.USDCMint,
		now.Unix(), config.USDCMint, watched,
		now.Add(-48*time.Hour).Unix(), watched, config.USDTMint)

	cl, target, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/addresses/"+watched+"/transactions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-key") != "TESTKEY" {
			t.Errorf("missing api-key in %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, body)
	})
	defer srv.Close()

	txs, err := cl.FetchTransfers(context.Background(), target, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cannot fetch transfers: %v", err)
	}

	// sig2 has no accepted inflow, sig3 is past the cutoff
	if len(txs) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(txs))
	}

	if txs[0].Token != "USDC" || txs[0].Amount.String() != "1.5" || txs[0].Hash != "sig1" {
		t.Errorf("unexpected transfer %+v", txs[0])
	}
}

func TestFetchTransfersPaginates(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	var befores []string
	cl, target, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		before := r.URL.Query().Get("before")
		befores = append(befores, before)
		if before != "" {
			fmt.Fprint(w, `[]`)
			return
		}

		fmt.Fprint(w, `[`)
		for i := 0; i < pageSize; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"signature":"sig%d","timestamp":%d,"tokenTransfers":[{"fromUserAccount":"P","toUserAccount":"%s","mint":"%s","tokenAmount":1}]}`,
				i, now.Unix(), watched, config.USDCMint)
		}
		fmt.Fprint(w, `]`)
	})
	defer srv.Close()

	txs, err := cl.FetchTransfers(context.Background(), target, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("cannot fetch transfers: %v", err)
	}

	want := []string{"", fmt.Sprintf("sig%d", pageSize-1)}
	if len(befores) != 2 || befores[0] != want[0] || befores[1] != want[1] {
		t.Errorf("expected before cursors %v, got %v", want, befores)
	}

	if len(txs) != pageSize {
		t.Errorf("expected %d transfers, got %d", pageSize, len(txs))
	}
}

func TestFetchTransfersPageCap(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	// a full page for every cursor, the walk must stop at the cap
	var pageBody strings.Builder
	pageBody.WriteString(`[`)
	for i := 0; i < pageSize; i++ {
		if i > 0 {
			pageBody.WriteString(",")
		}
		fmt.Fprintf(&pageBody, `{"signature":"sig%d","timestamp":%d,"tokenTransfers":[{"fromUserAccount":"P","toUserAccount":"%s","mint":"%s","tokenAmount":1}]}`,
			i, now.Unix(), watched, config.USDCMint)
	}
	pageBody.WriteString(`]`)

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

func TestFetchTransfersRateLimited(t *testing.T) {
	cl, target, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := cl.FetchTransfers(context.Background(), target, time.Now().Add(-time.Hour))
	if !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	var pe *types.ProviderError
	if !errors.As(err, &pe) || pe.RetryAfter != 12*time.Second {
		t.Errorf("expected RetryAfter 12s, got %v", err)
	}
}
