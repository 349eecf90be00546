// Package etherscan implements the chain adapter for the Etherscan V2 unified
// API, serving Ethereum, BNB Chain and Polygon through one endpoint keyed by
// chain id.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/registry"
)

// Etherscan V2 chain ids.
const (
	ChainIDEthereum = 1
	ChainIDBNBChain = 56
	ChainIDPolygon  = 137
)

const (
	apiURL   = "https://api.etherscan.io/v2/api"
	pageSize = 100
	maxPages = 100
)

// Client queries token transfer history from the Etherscan V2 API. One Client
// serves one chain.
type Client struct {
	chain   string
	chainID int
	apiKey  string
	reg     *registry.Registry
	url     string
	c       *http.Client
}

// New returns a Client for the given chain. The registry supplies token
// precision fallbacks when the API response omits tokenDecimal.
func New(chain string, chainID int, apiKey string, reg *registry.Registry) *Client {
	return &Client{
		chain:   chain,
		chainID: chainID,
		apiKey:  apiKey,
		reg:     reg,
		url:     apiURL,
		c:       &http.Client{Timeout: 20 * time.Second},
	}
}

// Name returns the chain this client serves.
func (cl *Client) Name() string {
	return cl.chain
}

// SetURL overrides the API endpoint. Used by tests.
func (cl *Client) SetURL(u string) {
	cl.url = u
}

type txResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type tokenTx struct {
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

// FetchTransfers returns accepted-token transfers into the target address, no
// older than since. It walks tokentx pages newest first, at most maxPages of
// them, and stops at the first page that reaches past the cutoff. On hitting
// the page cap it returns what it collected. It does not retry.
func (cl *Client) FetchTransfers(ctx context.Context, target registry.Target, since time.Time) ([]types.Transaction, error) {
	var txs []types.Transaction

	for page := 1; page <= maxPages; page++ {
		batch, done, err := cl.fetchPage(ctx, target, since, page)
		if err != nil {
			return nil, err
		}

		txs = append(txs, batch...)
		if done {
			return txs, nil
		}
	}

	return txs, nil
}

func (cl *Client) fetchPage(ctx context.Context, target registry.Target, since time.Time, page int) ([]types.Transaction, bool, error) {
	q := url.Values{}
	q.Set("chainid", strconv.Itoa(cl.chainID))
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("address", target.Address)
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(pageSize))
	q.Set("sort", "desc")
	q.Set("apikey", cl.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cl.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, false, cl.fail(target, types.ErrMalformed, 0, err.Error())
	}

	res, err := cl.c.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, false, cl.fail(target, types.ErrTimeout, 0, err.Error())
		}

		return nil, false, cl.fail(target, types.ErrMalformed, 0, err.Error())
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, false, cl.fail(target, types.ErrUnauthorized, 0, res.Status)
	case http.StatusTooManyRequests:
		return nil, false, cl.fail(target, types.ErrRateLimited, retryAfter(res), res.Status)
	default:
		return nil, false, cl.fail(target, types.ErrMalformed, 0, res.Status)
	}

	var body txResponse
	if err = json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, false, cl.fail(target, types.ErrMalformed, 0, err.Error())
	}

	// on errors the API reports status "0" and puts the reason in result as a
	// plain string
	if body.Status != "1" {
		if strings.Contains(body.Message, "No transactions found") {
			return nil, true, nil
		}

		reason := body.Message
		var s string
		if json.Unmarshal(body.Result, &s) == nil && s != "" {
			reason = s
		}

		switch {
		case strings.Contains(reason, "rate limit"):
			return nil, false, cl.fail(target, types.ErrRateLimited, 0, reason)
		case strings.Contains(reason, "Invalid API Key"):
			return nil, false, cl.fail(target, types.ErrUnauthorized, 0, reason)
		default:
			return nil, false, cl.fail(target, types.ErrMalformed, 0, reason)
		}
	}

	var raw []tokenTx
	if err = json.Unmarshal(body.Result, &raw); err != nil {
		return nil, false, cl.fail(target, types.ErrMalformed, 0, err.Error())
	}

	var txs []types.Transaction

	past := false
	for _, tx := range raw {
		sec, err := strconv.ParseInt(tx.TimeStamp, 10, 64)
		if err != nil {
			return nil, false, cl.fail(target, types.ErrMalformed, 0, "bad timeStamp "+tx.TimeStamp)
		}

		ts := time.Unix(sec, 0).UTC()
		if ts.Before(since) {
			past = true
			continue
		}

		// inflow only
		if !strings.EqualFold(tx.To, target.Address) {
			continue
		}

		symbol := target.Identify(tx.TokenSymbol, tx.ContractAddress)
		if symbol == "" {
			continue
		}

		amount, err := cl.amount(target.Chain, symbol, tx.Value, tx.TokenDecimal)
		if err != nil {
			return nil, false, err
		}

		txs = append(txs, types.Transaction{
			Chain:  target.Chain,
			Token:  symbol,
			From:   strings.ToLower(tx.From),
			To:     strings.ToLower(tx.To),
			Amount: amount,
			Hash:   tx.Hash,
			TS:     ts,
		})
	}

	return txs, past || len(raw) < pageSize, nil
}

// amount converts a base-unit value string into token units using the
// response's tokenDecimal, falling back to the configured precision.
func (cl *Client) amount(chain, symbol, value, tokenDecimal string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, cl.failAddr(chain, types.ErrMalformed, "bad value "+value)
	}

	d, err := strconv.ParseInt(tokenDecimal, 10, 32)
	if err != nil || d < 0 || d > 32 {
		dd, rerr := cl.reg.DecimalsFor(chain, symbol)
		if rerr != nil {
			return decimal.Zero, cl.failAddr(chain, types.ErrMalformed, "bad tokenDecimal "+tokenDecimal)
		}

		d = int64(dd)
	}

	return v.Shift(int32(-d)), nil
}

func (cl *Client) fail(target registry.Target, kind error, retry time.Duration, detail string) error {
	return &types.ProviderError{Chain: cl.chain, Address: target.Address, Kind: kind, RetryAfter: retry, Detail: detail}
}

func (cl *Client) failAddr(chain string, kind error, detail string) error {
	return &types.ProviderError{Chain: chain, Kind: kind, Detail: detail}
}

func retryAfter(res *http.Response) time.Duration {
	if s := res.Header.Get("Retry-After"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil {
			return time.Duration(sec) * time.Second
		}
	}

	return 0
}
