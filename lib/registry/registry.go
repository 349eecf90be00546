// Package registry implements the watch-target and token registry. It is
// built once from the service configuration at startup and is immutable for
// the process lifetime.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xFannie/gmt-pay-dashboard/lib/config"
)

// ErrUnknownToken is returned when a target or lookup references a token the
// configuration does not accept.
var ErrUnknownToken = errors.New("registry: token not configured for chain")

// Target is a watched (chain, address, accepted token set) entry.
type Target struct {
	Chain   string
	Address string
	Tokens  []config.TokenConfig
}

// Identify maps a provider-reported (symbol, contract) pair onto the target's
// accepted token set, returning the canonical symbol. Contract addresses win
// over symbols, matching how the original dashboard told GGUSD and BSC-USD
// apart. Returns "" when the transfer is not an accepted token.
func (t Target) Identify(symbol, contract string) string {
	for _, tok := range t.Tokens {
		if tok.Contract != "" && strings.EqualFold(tok.Contract, contract) {
			return tok.Symbol
		}
	}

	up := strings.ToUpper(symbol)
	for _, tok := range t.Tokens {
		if tok.Contract != "" {
			continue
		}

		if strings.Contains(up, tok.Symbol) {
			return tok.Symbol
		}
	}
	// BSC-USD is the exchange-listed name for the BUSD contract
	if strings.Contains(up, "BSC-USD") {
		for _, tok := range t.Tokens {
			if tok.Symbol == "BUSD" {
				return "BUSD"
			}
		}
	}

	return ""
}

// Registry holds the full watch-target set and token precision lookups.
type Registry struct {
	targets  []Target
	decimals map[string]int32 // chain:symbol -> decimals
}

// New builds a Registry from the configured targets.
func New(tcs []config.TargetConfig) (*Registry, error) {
	if len(tcs) == 0 {
		return nil, config.ErrNoTargets
	}

	r := &Registry{decimals: make(map[string]int32)}

	for _, tc := range tcs {
		if len(tc.Tokens) == 0 {
			return nil, fmt.Errorf("%w: %s has no accepted tokens", ErrUnknownToken, tc.Chain)
		}

		r.targets = append(r.targets, Target{Chain: tc.Chain, Address: tc.Address, Tokens: tc.Tokens})

		for _, tok := range tc.Tokens {
			r.decimals[tc.Chain+":"+tok.Symbol] = tok.Decimals
		}
	}

	return r, nil
}

// Targets returns the watch-target set.
func (r *Registry) Targets() []Target {
	return r.targets
}

// DecimalsFor returns the configured precision for the (chain, token symbol)
// pair, or ErrUnknownToken when the pair is not configured.
func (r *Registry) DecimalsFor(chain, symbol string) (int32, error) {
	d, ok := r.decimals[chain+":"+symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownToken, chain, symbol)
	}

	return d, nil
}
