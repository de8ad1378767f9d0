package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/ledger/bank"
	"github.com/umee-network/fundme/ledger/server"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
)

// APIError is a non-2xx response. It unwraps to the ledger error the status
// code stands for, so callers can match with errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		if strings.Contains(e.Message, ledger.ErrInsufficientContribution.Error()) {
			return ledger.ErrInsufficientContribution
		}
	case http.StatusForbidden:
		return ledger.ErrNotOwner
	case http.StatusNotFound:
		return ledger.ErrIndexOutOfRange
	case http.StatusConflict:
		return ledger.ErrTransferFailed
	case http.StatusPaymentRequired:
		return bank.ErrInsufficientBalance
	case http.StatusServiceUnavailable:
		return ledger.ErrOracleUnavailable
	case http.StatusUnauthorized:
		if strings.Contains(e.Message, server.ErrBadNonce.Error()) {
			return server.ErrBadNonce
		}
		return server.ErrBadSignature
	}

	return nil
}

// Client talks to a fundme API server.
type Client struct {
	logger      zerolog.Logger
	baseURL     string
	http        *http.Client
	maxAttempts uint
}

func New(logger zerolog.Logger, baseURL string, options ...func(*Client)) *Client {
	c := &Client{
		logger:      logger.With().Str("module", "client").Logger(),
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

func WithHTTPClient(h *http.Client) func(*Client) {
	return func(c *Client) { c.http = h }
}

func WithMaxAttempts(n uint) func(*Client) {
	return func(c *Client) { c.maxAttempts = n }
}

func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	var resp server.OwnerResponse
	err := c.get(ctx, "/v1/owner", &resp)
	return resp.Owner, err
}

func (c *Client) PriceFeed(ctx context.Context) (common.Address, error) {
	var resp server.PriceFeedResponse
	err := c.get(ctx, "/v1/price-feed", &resp)
	return resp.PriceFeed, err
}

func (c *Client) Funders(ctx context.Context) ([]common.Address, error) {
	var resp server.FundersResponse
	err := c.get(ctx, "/v1/funders", &resp)
	return resp.Funders, err
}

func (c *Client) Funder(ctx context.Context, index int) (common.Address, error) {
	var resp server.FunderResponse
	err := c.get(ctx, fmt.Sprintf("/v1/funders/%d", index), &resp)
	return resp.Funder, err
}

func (c *Client) AmountFunded(ctx context.Context, addr common.Address) (*big.Int, error) {
	var resp server.AmountResponse
	if err := c.get(ctx, "/v1/funded/"+addr.Hex(), &resp); err != nil {
		return nil, err
	}

	return ParseWei(resp.Amount)
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var resp server.AmountResponse
	if err := c.get(ctx, "/v1/balance/"+addr.Hex(), &resp); err != nil {
		return nil, err
	}

	return ParseWei(resp.Amount)
}

func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	var resp server.NonceResponse
	err := c.get(ctx, "/v1/nonce/"+addr.Hex(), &resp)
	return resp.Nonce, err
}

// UsdValue returns the 18-decimal USD value of amount wei.
func (c *Client) UsdValue(ctx context.Context, amount *big.Int) (*big.Int, error) {
	var resp server.UsdValueResponse
	if err := c.get(ctx, "/v1/usd-value?amount="+url.QueryEscape(amount.String()), &resp); err != nil {
		return nil, err
	}

	return ParseWei(resp.USD)
}

// Fund contributes amount wei signed by key.
func (c *Client) Fund(ctx context.Context, key *ecdsa.PrivateKey, amount *big.Int) (*server.FundResponse, error) {
	var resp server.FundResponse
	if err := c.signedPost(ctx, key, server.ActionFund, amount.String(), "/v1/fund", &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Withdraw sweeps the pool to the key holder, who must be the owner.
func (c *Client) Withdraw(ctx context.Context, key *ecdsa.PrivateKey, cheaper bool) (*server.WithdrawResponse, error) {
	action, path := server.ActionWithdraw, "/v1/withdraw"
	if cheaper {
		action, path = server.ActionCheaperWithdraw, "/v1/cheaper-withdraw"
	}

	var resp server.WithdrawResponse
	if err := c.signedPost(ctx, key, action, "0", path, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) signedPost(ctx context.Context, key *ecdsa.PrivateKey, action, amount, path string, out interface{}) error {
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.Nonce(ctx, from)
	if err != nil {
		return errors.Wrap(err, "failed to fetch request nonce")
	}

	req, err := server.SignRequest(key, action, amount, nonce)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	c.logger.Debug().Str("action", action).Str("from", from.Hex()).Uint64("nonce", nonce).Msg("sending signed request")

	// not retried: a lost response would leave the nonce consumed
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(func() error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	},
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Err(err).Uint("retry", n).Str("path", path).Msg("request failed; retrying...")
		}),
	)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}

		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}

	return nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}

	return true
}

// ParseWei parses a base-10 wei amount as the API encodes it.
func ParseWei(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.Errorf("invalid amount %q in response", raw)
	}

	return v, nil
}
