// Package chain defines the chain adapter interface and its factory. Each
// supported chain gets one Adapter speaking that chain's explorer API.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/etherscan"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/helius"
	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/config"
	"github.com/0xFannie/gmt-pay-dashboard/lib/registry"
)

// ErrNoAdapter is returned when a configured target names a chain no adapter
// serves.
var ErrNoAdapter = errors.New("chain: no adapter for chain")

// Adapter fetches inbound token transfers for a watch target. Implementations
// query a single provider and never retry internally. The returned slice holds
// only transfers into the target address, newest first, no older than since.
type Adapter interface {
	Name() string
	FetchTransfers(ctx context.Context, target registry.Target, since time.Time) ([]types.Transaction, error)
}

// Init creates an Adapter per chain required by the configured targets.
func Init(conf *config.ServiceConfig, reg *registry.Registry) (map[string]Adapter, error) {
	adapters := make(map[string]Adapter)

	for _, t := range reg.Targets() {
		if _, ok := adapters[t.Chain]; ok {
			continue
		}

		switch t.Chain {
		case types.Ethereum:
			adapters[t.Chain] = etherscan.New(t.Chain, etherscan.ChainIDEthereum, conf.EtherscanKey, reg)
		case types.BNBChain:
			adapters[t.Chain] = etherscan.New(t.Chain, etherscan.ChainIDBNBChain, conf.EtherscanKey, reg)
		case types.Polygon:
			adapters[t.Chain] = etherscan.New(t.Chain, etherscan.ChainIDPolygon, conf.EtherscanKey, reg)
		case types.Solana:
			adapters[t.Chain] = helius.New(conf.HeliusKey, reg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrNoAdapter, t.Chain)
		}
	}

	return adapters, nil
}
