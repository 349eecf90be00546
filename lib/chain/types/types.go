// Package types holds the common transaction types shared by all chain adapters.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Chain names as reported in the canonical transaction table.
const (
	Ethereum = "Ethereum"
	BNBChain = "BNB Chain"
	Polygon  = "Polygon"
	Solana   = "Solana"
)

// Transaction is one on-chain transfer matching a watched (chain, token, address)
// tuple. (Chain, Hash) uniquely identifies a transaction; once recorded its
// fields are immutable.
type Transaction struct {
	Chain     string          `json:"chain" bson:"chain"`
	Token     string          `json:"token" bson:"token"`
	From      string          `json:"from" bson:"from"`
	To        string          `json:"to" bson:"to"`
	Amount    decimal.Decimal `json:"amount" bson:"amount"`       // token units, decimals applied
	USD       decimal.Decimal `json:"usd" bson:"usd"`             // derived via the rate table
	CardValue int64           `json:"cardValue" bson:"cardValue"` // derived card face value, 0 if none
	Hash      string          `json:"hash" bson:"hash"`
	TS        time.Time       `json:"ts" bson:"ts"` // UTC
}

// Key returns the deduplication key for the transaction.
func (t Transaction) Key() string {
	return t.Chain + ":" + t.Hash
}

// Provider error kinds. Adapters map provider responses onto these sentinels;
// callers check them with errors.Is.
var (
	ErrRateLimited  = errors.New("provider rate limited")
	ErrUnauthorized = errors.New("provider rejected API key")
	ErrMalformed    = errors.New("malformed provider response")
	ErrTimeout      = errors.New("provider network timeout")
)

// ProviderError scopes an adapter failure to one watch target. It unwraps to
// one of the sentinel kinds above.
type ProviderError struct {
	Chain      string
	Address    string
	Kind       error         // one of ErrRateLimited, ErrUnauthorized, ErrMalformed, ErrTimeout
	RetryAfter time.Duration // advisory, only set for ErrRateLimited
	Detail     string
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Chain, e.Address, e.Kind, e.Detail)
	}

	return fmt.Sprintf("[%s] %s: %s", e.Chain, e.Address, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}
