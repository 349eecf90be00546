// Package analytics derives holder summaries, card face values and pricing
// from aggregated transfer sets.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/config"
	"github.com/0xFannie/gmt-pay-dashboard/lib/util"
)

// Tier is a named spend level. Holders are assigned the highest tier whose
// Min their total does not fall below.
type Tier struct {
	Name string
	Min  decimal.Decimal
}

// TiersFrom parses the configured tier boundaries.
func TiersFrom(tcs []config.TierConfig) ([]Tier, error) {
	tiers := make([]Tier, 0, len(tcs))

	for _, tc := range tcs {
		min, err := decimal.NewFromString(tc.MinUSD)
		if err != nil {
			return nil, fmt.Errorf("analytics: bad tier minimum %q for %s: %w", tc.MinUSD, tc.Name, err)
		}

		tiers = append(tiers, Tier{Name: tc.Name, Min: min})
	}

	return tiers, nil
}

// RatesFrom parses the configured token USD rate table.
func RatesFrom(rates map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(rates))

	for symbol, s := range rates {
		rate, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("analytics: bad rate %q for %s: %w", s, symbol, err)
		}

		out[symbol] = rate
	}

	return out, nil
}

// HolderSummary aggregates all transfers sent by one address.
type HolderSummary struct {
	Address  string                     `json:"address"`
	Count    int                        `json:"count"`
	TotalUSD decimal.Decimal            `json:"total_usd"`
	Tokens   map[string]decimal.Decimal `json:"tokens"`
	Chains   []string                   `json:"chains"`
	Tier     string                     `json:"tier,omitempty"`
	First    time.Time                  `json:"first_seen"`
	Last     time.Time                  `json:"last_seen"`
}

// Summarize groups transfers by sender address and computes per-holder totals.
// Tiers may be nil, in which case no tier is assigned.
func Summarize(txs []types.Transaction, tiers []Tier) map[string]HolderSummary {
	out := make(map[string]HolderSummary)

	for _, tx := range txs {
		h, ok := out[tx.From]
		if !ok {
			h = HolderSummary{Address: tx.From, Tokens: make(map[string]decimal.Decimal), First: tx.TS, Last: tx.TS}
		}

		h.Count++
		h.TotalUSD = h.TotalUSD.Add(tx.USD)
		h.Tokens[tx.Token] = h.Tokens[tx.Token].Add(tx.Amount)
		if !util.In(h.Chains, tx.Chain) {
			h.Chains = append(h.Chains, tx.Chain)
		}

		if tx.TS.Before(h.First) {
			h.First = tx.TS
		}
		if tx.TS.After(h.Last) {
			h.Last = tx.TS
		}

		out[tx.From] = h
	}

	for addr, h := range out {
		sort.Strings(h.Chains)
		h.Tier = tierFor(h.TotalUSD, tiers)
		out[addr] = h
	}

	return out
}

// tierFor returns the highest tier whose minimum the total reaches.
func tierFor(total decimal.Decimal, tiers []Tier) string {
	name := ""
	best := decimal.NewFromInt(-1)

	for _, t := range tiers {
		if total.GreaterThanOrEqual(t.Min) && t.Min.GreaterThan(best) {
			name = t.Name
			best = t.Min
		}
	}

	return name
}

// card face values and the USD windows a payment for each may land in
var cardWindows = []struct {
	face      int64
	low, high decimal.Decimal
}{
	{25, decimal.NewFromFloat(24.5), decimal.NewFromInt(27)},
	{50, decimal.NewFromInt(48), decimal.NewFromInt(54)},
	{100, decimal.NewFromInt(98), decimal.NewFromInt(107)},
	{200, decimal.NewFromInt(195), decimal.NewFromInt(212)},
	{300, decimal.NewFromInt(295), decimal.NewFromInt(318)},
}

// CardValue maps a payment amount onto a card face value, or 0 when the
// amount lands in no window. Windows are inclusive on both ends.
func CardValue(usd decimal.Decimal) int64 {
	for _, w := range cardWindows {
		if usd.GreaterThanOrEqual(w.low) && usd.LessThanOrEqual(w.high) {
			return w.face
		}
	}

	return 0
}

// fee is 3% of face value plus a fixed dollar.
func fee(face int64) decimal.Decimal {
	return decimal.NewFromInt(face).Mul(decimal.NewFromFloat(0.03)).Add(decimal.NewFromInt(1))
}

// NormalPayment returns the full price of a card, face value plus fee.
func NormalPayment(face int64) decimal.Decimal {
	return decimal.NewFromInt(face).Add(fee(face))
}

// VIPPayment returns the discounted price of a card. VIPs pay 70% of the fee,
// except the smallest card which carries a flat one dollar fee.
func VIPPayment(face int64) decimal.Decimal {
	if face == 25 {
		return decimal.NewFromInt(face).Add(decimal.NewFromInt(1))
	}

	return decimal.NewFromInt(face).Add(fee(face).Mul(decimal.NewFromFloat(0.70)))
}
