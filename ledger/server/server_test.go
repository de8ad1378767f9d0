package server

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/ledger/bank"
	"github.com/umee-network/fundme/ledger/metrics"
	"github.com/umee-network/fundme/ledger/pricefeed"
	"github.com/umee-network/fundme/ledger/store"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type testEnv struct {
	ownerKey  *ecdsa.PrivateKey
	funderKey *ecdsa.PrivateKey
	owner     common.Address
	funder    common.Address

	bank   *bank.Memory
	feed   *pricefeed.MockAggregator
	ledger *ledger.Ledger
	store  *store.Store
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ownerKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	funderKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	env := &testEnv{
		ownerKey:  ownerKey,
		funderKey: funderKey,
		owner:     ethcrypto.PubkeyToAddress(ownerKey.PublicKey),
		funder:    ethcrypto.PubkeyToAddress(funderKey.PublicKey),
		feed:      pricefeed.NewDefaultMockAggregator(),
	}

	env.bank = bank.NewMemory(bank.WithBalances(map[common.Address]*big.Int{
		env.owner:  ether(1),
		env.funder: ether(10),
	}))

	reg := prometheus.NewRegistry()
	gateway := pricefeed.NewGateway(env.feed)

	env.ledger, err = ledger.New(zerolog.Nop(), env.owner, gateway, env.bank,
		ledger.WithMetrics(metrics.NewLedger(reg)),
	)
	require.NoError(t, err)

	env.store, err = store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { env.store.Close() })

	env.server = New(zerolog.Nop(), env.ledger, env.bank, gateway,
		WithStore(env.store),
		WithGatherer(reg),
	)
	env.http = httptest.NewServer(env.server.Router())
	t.Cleanup(env.http.Close)

	return env
}

func (env *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()

	resp, err := http.Get(env.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func (env *testEnv) post(t *testing.T, path string, req interface{}, out interface{}) int {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(env.http.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func (env *testEnv) signed(t *testing.T, key *ecdsa.PrivateKey, action, amount string, nonce uint64) *SignedRequest {
	t.Helper()

	req, err := SignRequest(key, action, amount, nonce)
	require.NoError(t, err)

	return req
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var owner OwnerResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/v1/owner", &owner))
	assert.Equal(t, env.owner, owner.Owner)

	var feed PriceFeedResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/v1/price-feed", &feed))
	assert.Equal(t, env.feed.Address(), feed.PriceFeed)

	var usd UsdValueResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/v1/usd-value?amount=25000000000000000", &usd))
	assert.Equal(t, ether(50).String(), usd.USD)

	var balance AmountResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/v1/balance/"+env.funder.Hex(), &balance))
	assert.Equal(t, ether(10).String(), balance.Amount)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, env.get(t, "/v1/funders/0", &errResp))
	assert.Contains(t, errResp.Error, "index out of range")

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/v1/funders/abc", nil))
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/v1/funded/0x1234", nil))
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/v1/usd-value?amount=-5", nil))
	assert.Equal(t, http.StatusOK, env.get(t, "/healthz", nil))
}

func TestFundAndWithdraw(t *testing.T) {
	env := newTestEnv(t)

	var fund FundResponse
	status := env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(1).String(), 0), &fund)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, env.funder, fund.Funder)
	assert.Equal(t, ether(1).String(), fund.Total)

	var funded AmountResponse
	env.get(t, "/v1/funded/"+env.funder.Hex(), &funded)
	assert.Equal(t, ether(1).String(), funded.Amount)

	var funder FunderResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/v1/funders/0", &funder))
	assert.Equal(t, env.funder, funder.Funder)

	var nonce NonceResponse
	env.get(t, "/v1/nonce/"+env.funder.Hex(), &nonce)
	assert.Equal(t, uint64(1), nonce.Nonce)

	// funder is not the owner
	status = env.post(t, "/v1/withdraw", env.signed(t, env.funderKey, ActionWithdraw, "0", 1), nil)
	assert.Equal(t, http.StatusForbidden, status)

	var withdrawn WithdrawResponse
	status = env.post(t, "/v1/cheaper-withdraw", env.signed(t, env.ownerKey, ActionCheaperWithdraw, "0", 0), &withdrawn)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ether(1).String(), withdrawn.Amount)
	assert.Equal(t, 1, withdrawn.FundersCleared)
	assert.Equal(t, string(ledger.StrategyCached), withdrawn.Strategy)

	assert.Equal(t, ether(2).String(), env.bank.BalanceOf(env.owner).String())
	require.NoError(t, env.ledger.CheckInvariants())
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t)

	// $49.99
	status := env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, "24995000000000000", 0), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(11).String(), 1), nil)
	assert.Equal(t, http.StatusPaymentRequired, status)

	env.feed.UpdateAnswer(big.NewInt(0))
	status = env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(1).String(), 2), nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, http.StatusServiceUnavailable, env.get(t, "/v1/usd-value?amount=1", nil))
	env.feed.UpdateAnswer(big.NewInt(200000000000))

	require.Equal(t, http.StatusOK, env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(1).String(), 3), nil))

	env.bank.SetReceiveHook(func(to common.Address, _ *big.Int) error {
		if to == env.owner {
			return io.ErrClosedPipe
		}
		return nil
	})
	status = env.post(t, "/v1/withdraw", env.signed(t, env.ownerKey, ActionWithdraw, "0", 0), nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, ether(1).String(), env.ledger.PooledBalance().String())
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	// replayed nonce
	req := env.signed(t, env.funderKey, ActionFund, ether(1).String(), 0)
	require.Equal(t, http.StatusOK, env.post(t, "/v1/fund", req, nil))
	assert.Equal(t, http.StatusUnauthorized, env.post(t, "/v1/fund", req, nil))

	// skipped nonce
	assert.Equal(t, http.StatusUnauthorized, env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(1).String(), 5), nil))

	// tampered amount
	req = env.signed(t, env.funderKey, ActionFund, ether(1).String(), 1)
	req.Amount = ether(2).String()
	assert.Equal(t, http.StatusUnauthorized, env.post(t, "/v1/fund", req, nil))

	// signed by someone else
	req = env.signed(t, env.funderKey, ActionWithdraw, "0", 0)
	req.From = env.owner
	assert.Equal(t, http.StatusUnauthorized, env.post(t, "/v1/withdraw", req, nil))

	// a fund signature does not authorize a withdrawal
	req = env.signed(t, env.ownerKey, ActionFund, "0", 0)
	assert.Equal(t, http.StatusUnauthorized, env.post(t, "/v1/withdraw", req, nil))

	// garbage
	req = &SignedRequest{From: env.owner, Signature: "0xdeadbeef"}
	assert.Equal(t, http.StatusUnauthorized, env.post(t, "/v1/withdraw", req, nil))

	resp, err := http.Post(env.http.URL+"/v1/fund", "application/json", strings.NewReader(`{"from":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 1, env.ledger.FundersCount())
}

func TestSignerRecovery(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	req, err := SignRequest(key, ActionFund, "42", 7)
	require.NoError(t, err)

	signer, err := req.Signer(ActionFund)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), signer)
	assert.Equal(t, "fundme:fund:42:7", string(SigningPayload(ActionFund, "42", 7)))

	_, err = (&SignedRequest{Signature: "0x00"}).Signer(ActionFund)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestNonceTracker(t *testing.T) {
	addr := common.HexToAddress("0x01")
	tracker := NewNonceTracker(map[common.Address]uint64{addr: 3})

	assert.Equal(t, uint64(3), tracker.Next(addr))
	assert.ErrorIs(t, tracker.Consume(addr, 2), ErrBadNonce)
	require.NoError(t, tracker.Consume(addr, 3))
	assert.Equal(t, map[common.Address]uint64{addr: 4}, tracker.Snapshot())
}

func TestPersistsAfterMutation(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(2).String(), 0), nil))

	// rejected but authenticated: the nonce is still persisted
	require.Equal(t, http.StatusForbidden, env.post(t, "/v1/withdraw", env.signed(t, env.funderKey, ActionWithdraw, "0", 1), nil))

	snap, ok, err := env.store.Load()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, env.ledger.State(), snap.State)
	assert.Equal(t, uint64(2), snap.Nonces[env.funder])
	assert.Equal(t, ether(8).String(), snap.Balances[env.funder].String())

	// a fresh service restored from the snapshot sees the same ledger
	restoredBank := bank.NewMemory(bank.WithBalances(snap.Balances))
	restored, err := ledger.New(zerolog.Nop(), env.owner, pricefeed.NewGateway(env.feed), restoredBank, ledger.WithState(snap.State))
	require.NoError(t, err)
	assert.Equal(t, env.ledger.State(), restored.State())
}

type failingCommitter struct {
	calls int
}

func (c *failingCommitter) Commit(*store.Snapshot) error {
	c.calls++
	return errors.New("disk full")
}

func TestCommitFailureHaltsWrites(t *testing.T) {
	env := newTestEnv(t)

	reg := prometheus.NewRegistry()
	committer := &failingCommitter{}
	env.server = New(zerolog.Nop(), env.ledger, env.bank, pricefeed.NewGateway(env.feed),
		WithStore(committer),
		WithMetrics(metrics.NewLedger(reg)),
	)
	env.http = httptest.NewServer(env.server.Router())
	t.Cleanup(env.http.Close)

	var errResp ErrorResponse
	require.Equal(t, http.StatusInternalServerError,
		env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(1).String(), 0), &errResp))
	assert.Contains(t, errResp.Error, "disk full")
	assert.Equal(t, 1, committer.calls)

	// later writes are refused before authentication or any ledger effect
	pooled := env.ledger.PooledBalance()
	require.Equal(t, http.StatusInternalServerError,
		env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(1).String(), 1), &errResp))
	assert.Contains(t, errResp.Error, ErrNotPersisted.Error())
	require.Equal(t, http.StatusInternalServerError,
		env.post(t, "/v1/cheaper-withdraw", env.signed(t, env.ownerKey, ActionCheaperWithdraw, "0", 0), nil))

	assert.Equal(t, 1, committer.calls)
	assert.Equal(t, pooled.String(), env.ledger.PooledBalance().String())
	assert.Equal(t, uint64(1), env.server.nonces.Next(env.funder))

	// reads keep working
	var owner OwnerResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/v1/owner", &owner))

	expected := `
# HELP fundme_persist_failures_total Snapshots that could not be written after a mutating request.
# TYPE fundme_persist_failures_total counter
fundme_persist_failures_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fundme_persist_failures_total"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.post(t, "/v1/fund", env.signed(t, env.funderKey, ActionFund, ether(1).String(), 0), nil))

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fundme_contributions_total{result="accepted"} 1`)
	assert.Contains(t, string(body), "fundme_pooled_balance_wei 1e+18")
}
