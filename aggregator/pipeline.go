// Package aggregator implements the transfer aggregation pipeline and the
// snapshot cache it feeds. The pipeline fans out to one chain adapter per
// watch target, merges the results with the previous snapshot and derives the
// USD value and card face value of every transfer.
package aggregator

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xFannie/gmt-pay-dashboard/lib/analytics"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/registry"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store"
)

// ErrAllTargetsFailed is returned by Run when every fetch failed and there is
// no previous snapshot to fall back on.
var ErrAllTargetsFailed = errors.New("aggregator: all targets failed")

const fetchTimeout = 30 * time.Second

// Pipeline aggregates transfers from all watch targets into snapshots.
type Pipeline struct {
	reg      *registry.Registry
	adapters map[string]chain.Adapter
	rates    map[string]decimal.Decimal
	window   time.Duration
}

// NewPipeline returns a Pipeline over the given adapters. rates maps token
// symbols to their USD price, window is the history period the first run
// fetches.
func NewPipeline(reg *registry.Registry, adapters map[string]chain.Adapter, rates map[string]decimal.Decimal, window time.Duration) *Pipeline {
	return &Pipeline{reg: reg, adapters: adapters, rates: rates, window: window}
}

type fetchResult struct {
	chain string
	txs   []types.Transaction
	err   error
}

// Run performs one aggregation pass. Each target is fetched concurrently with
// its own timeout, starting from the latest transfer the previous snapshot
// holds for that target (the full history window on a first run). Results merge
// into prev's transfer set; a recorded transfer is immutable and never
// dropped, so every snapshot is a superset of the one before. Targets that
// fail degrade the snapshot instead of losing it; Run only errors when every
// target fails and prev is nil, or the context is cancelled.
//
// Running twice over the same chain data yields the same transfer set.
func (p *Pipeline) Run(ctx context.Context, prev *store.Snapshot) (*store.Snapshot, error) {
	now := time.Now().UTC()
	since := now.Add(-p.window)

	// latest recorded transfer per target drives the incremental fetch; two
	// targets on one chain advance independently
	cursor := make(map[string]time.Time)

	if prev != nil {
		for _, tx := range prev.Txs {
			k := cursorKey(tx.Chain, tx.To)
			if tx.TS.After(cursor[k]) {
				cursor[k] = tx.TS
			}
		}
	}

	targets := p.reg.Targets()
	res := make(chan fetchResult, len(targets))

	n := 0
	for _, target := range targets {
		a, ok := p.adapters[target.Chain]
		if !ok {
			log.Printf("[%s] No adapter, skipping target %s", target.Chain, target.Address)
			continue
		}

		from := since
		if c, ok := cursor[cursorKey(target.Chain, target.Address)]; ok && c.After(from) {
			from = c
		}

		n++
		go func(a chain.Adapter, target registry.Target, from time.Time) {
			fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
			defer cancel()

			txs, err := a.FetchTransfers(fctx, target, from)
			res <- fetchResult{chain: target.Chain, txs: txs, err: err}
		}(a, target, from)
	}

	merged := make(map[string]types.Transaction)

	var failed []string

	report := make(map[string]string)

	for i := 0; i < n; i++ {
		r := <-res
		refreshRuns.WithLabelValues(r.chain).Inc()

		if r.err != nil {
			log.Printf("[%s] Fetch failed: %v", r.chain, r.err)
			refreshFailures.WithLabelValues(r.chain).Inc()
			failed = append(failed, r.chain)
			report[r.chain] = r.err.Error()

			continue
		}

		for _, tx := range r.txs {
			merged[tx.Key()] = tx
		}
	}

	// an aborted run publishes nothing
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(failed) == n {
		if prev == nil {
			return nil, ErrAllTargetsFailed
		}

		log.Printf("All %d targets failed, keeping previous snapshot data", n)
	}

	// recorded transfers are immutable, the previous version wins on collision
	if prev != nil {
		for _, tx := range prev.Txs {
			merged[tx.Key()] = tx
		}
	}

	txs := make([]types.Transaction, 0, len(merged))
	for _, tx := range merged {
		txs = append(txs, p.enrich(tx))
	}

	// oldest first, key as tie break so equal runs produce equal snapshots
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].TS.Equal(txs[j].TS) {
			return txs[i].TS.Before(txs[j].TS)
		}

		return txs[i].Key() < txs[j].Key()
	})

	transfersSeen.Add(float64(len(txs)))
	sort.Strings(failed)

	return &store.Snapshot{
		Taken:   now,
		Since:   since,
		Partial: len(failed) > 0,
		Failed:  failed,
		Errors:  report,
		Txs:     txs,
	}, nil
}

// cursorKey identifies a watch target in the cursor map. Addresses compare
// case insensitively, EVM providers report them in mixed case.
func cursorKey(chain, address string) string {
	return chain + ":" + strings.ToLower(address)
}

// enrich derives the USD value and card face value of a transfer.
func (p *Pipeline) enrich(tx types.Transaction) types.Transaction {
	rate, ok := p.rates[tx.Token]
	if !ok {
		rate = decimal.NewFromInt(1)
	}

	tx.USD = tx.Amount.Mul(rate)
	tx.CardValue = analytics.CardValue(tx.USD)

	return tx
}

// Diff returns the transfers present in cur but not in prev. The aggregator
// service publishes these to the message broker.
func Diff(prev, cur *store.Snapshot) []types.Transaction {
	if cur == nil {
		return nil
	}

	seen := make(map[string]struct{})
	if prev != nil {
		for _, tx := range prev.Txs {
			seen[tx.Key()] = struct{}{}
		}
	}

	var fresh []types.Transaction

	for _, tx := range cur.Txs {
		if _, ok := seen[tx.Key()]; !ok {
			fresh = append(fresh, tx)
		}
	}

	return fresh
}
