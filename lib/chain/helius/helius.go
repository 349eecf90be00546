// Package helius implements the Solana chain adapter on top of the Helius
// enhanced transactions API.
package helius

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/registry"
)

const (
	apiURL   = "https://api.helius.xyz"
	pageSize = 100
	maxPages = 100
)

// Client queries token transfer history from the Helius enhanced API.
type Client struct {
	apiKey string
	reg    *registry.Registry
	url    string
	c      *http.Client
}

// New returns a Client for the Solana chain.
func New(apiKey string, reg *registry.Registry) *Client {
	return &Client{
		apiKey: apiKey,
		reg:    reg,
		url:    apiURL,
		c:      &http.Client{Timeout: 20 * time.Second},
	}
}

// Name returns the chain this client serves.
func (cl *Client) Name() string {
	return types.Solana
}

// SetURL overrides the API endpoint. Used by tests.
func (cl *Client) SetURL(u string) {
	cl.url = u
}

type enhancedTx struct {
	Signature      string          `json:"signature"`
	Timestamp      int64           `json:"timestamp"`
	TokenTransfers []tokenTransfer `json:"tokenTransfers"`
}

type tokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// FetchTransfers returns accepted-mint transfers into the target address, no
// older than since. It pages backwards with the before cursor, at most
// maxPages deep, and stops at the first transaction past the cutoff. On
// hitting the page cap it returns what it collected. It does not retry.
func (cl *Client) FetchTransfers(ctx context.Context, target registry.Target, since time.Time) ([]types.Transaction, error) {
	var txs []types.Transaction

	before := ""
	for page := 0; page < maxPages; page++ {
		batch, next, err := cl.fetchPage(ctx, target, since, before)
		if err != nil {
			return nil, err
		}

		txs = append(txs, batch...)
		if next == "" {
			return txs, nil
		}

		before = next
	}

	return txs, nil
}

// fetchPage returns one page of transfers and the cursor for the next page,
// or "" when the walk is done.
func (cl *Client) fetchPage(ctx context.Context, target registry.Target, since time.Time, before string) ([]types.Transaction, string, error) {
	q := url.Values{}
	q.Set("api-key", cl.apiKey)
	q.Set("limit", strconv.Itoa(pageSize))
	if before != "" {
		q.Set("before", before)
	}

	u := cl.url + "/v0/addresses/" + target.Address + "/transactions?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", cl.fail(target, types.ErrMalformed, 0, err.Error())
	}

	res, err := cl.c.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", cl.fail(target, types.ErrTimeout, 0, err.Error())
		}

		return nil, "", cl.fail(target, types.ErrMalformed, 0, err.Error())
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, "", cl.fail(target, types.ErrUnauthorized, 0, res.Status)
	case http.StatusTooManyRequests:
		return nil, "", cl.fail(target, types.ErrRateLimited, retryAfter(res), res.Status)
	default:
		return nil, "", cl.fail(target, types.ErrMalformed, 0, res.Status)
	}

	var raw []enhancedTx
	if err = json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, "", cl.fail(target, types.ErrMalformed, 0, err.Error())
	}

	if len(raw) == 0 {
		return nil, "", nil
	}

	var txs []types.Transaction

	past := false
	for _, tx := range raw {
		ts := time.Unix(tx.Timestamp, 0).UTC()
		if ts.Before(since) {
			past = true
			continue
		}

		// sum per token so one signature yields at most one row per token
		amounts := make(map[string]decimal.Decimal)
		froms := make(map[string]string)
		for _, tr := range tx.TokenTransfers {
			if tr.ToUserAccount != target.Address {
				continue
			}

			symbol := target.Identify("", tr.Mint)
			if symbol == "" {
				continue
			}

			amounts[symbol] = amounts[symbol].Add(decimal.NewFromFloat(tr.TokenAmount))
			froms[symbol] = tr.FromUserAccount
		}

		for symbol, amount := range amounts {
			hash := tx.Signature
			if len(amounts) > 1 {
				hash = tx.Signature + "-" + symbol
			}

			txs = append(txs, types.Transaction{
				Chain:  types.Solana,
				Token:  symbol,
				From:   froms[symbol],
				To:     target.Address,
				Amount: amount,
				Hash:   hash,
				TS:     ts,
			})
		}
	}

	if past || len(raw) < pageSize {
		return txs, "", nil
	}

	return txs, raw[len(raw)-1].Signature, nil
}

func (cl *Client) fail(target registry.Target, kind error, retry time.Duration, detail string) error {
	return &types.ProviderError{Chain: types.Solana, Address: target.Address, Kind: kind, RetryAfter: retry, Detail: detail}
}

func retryAfter(res *http.Response) time.Duration {
	if s := res.Header.Get("Retry-After"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil {
			return time.Duration(sec) * time.Second
		}
	}

	return 0
}
