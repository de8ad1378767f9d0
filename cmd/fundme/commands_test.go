package fundme

import (
	"bytes"
	"context"
	"io"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/ledger/bank"
	"github.com/umee-network/fundme/ledger/pricefeed"
	"github.com/umee-network/fundme/ledger/server"
	"github.com/umee-network/fundme/ledger/store"
)

const (
	ownerPK  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcaac5e46b7eb46b42"
	funderPK = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	ownerAddr  = addressOf(ownerPK)
	funderAddr = addressOf(funderPK)
)

func addressOf(pkHex string) common.Address {
	key, err := ethcrypto.HexToECDSA(pkHex)
	if err != nil {
		panic(err)
	}

	return ethcrypto.PubkeyToAddress(key.PublicKey)
}

func newTestAPI(t *testing.T) (string, *bank.Memory, *ledger.Ledger) {
	t.Helper()

	oneEther := big.NewInt(1e18)
	balances := bank.NewMemory(bank.WithBalances(map[common.Address]*big.Int{
		ownerAddr:  oneEther,
		funderAddr: new(big.Int).Mul(big.NewInt(10), oneEther),
	}))

	gateway := pricefeed.NewGateway(pricefeed.NewDefaultMockAggregator())

	l, err := ledger.New(zerolog.Nop(), ownerAddr, gateway, balances)
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(zerolog.Nop(), l, balances, gateway).Router())
	t.Cleanup(srv.Close)

	return srv.URL, balances, l
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFundAndWithdrawCommands(t *testing.T) {
	apiURL, balances, l := newTestAPI(t)

	out, err := runCmd(t, "fund", "--api-url", apiURL, "--eth-pk", funderPK, "--amount", "1")
	require.NoError(t, err)
	require.Contains(t, out, "Funded! "+funderAddr.Hex()+" now has 1 ETH in the pool")
	require.Equal(t, 1, l.FundersCount())

	out, err = runCmd(t, "funders", "--api-url", apiURL)
	require.NoError(t, err)
	require.Contains(t, out, "owner: "+ownerAddr.Hex())
	require.Contains(t, out, funderAddr.Hex())

	out, err = runCmd(t, "withdraw", "--api-url", apiURL, "--eth-pk", "0x"+ownerPK, "--cheaper")
	require.NoError(t, err)
	require.Contains(t, out, "Withdraw from contract...")
	require.Contains(t, out, "Withdrew 1 ETH (1 funders cleared)")

	require.Equal(t, "2000000000000000000", balances.BalanceOf(ownerAddr).String())
	require.Zero(t, l.FundersCount())
}

func TestFundCommandBelowMinimum(t *testing.T) {
	apiURL, _, l := newTestAPI(t)

	_, err := runCmd(t, "fund", "--api-url", apiURL, "--eth-pk", funderPK, "--amount", "0.01")
	require.ErrorIs(t, err, ledger.ErrInsufficientContribution)
	require.Zero(t, l.FundersCount())
}

func TestWithdrawCommandNotOwner(t *testing.T) {
	apiURL, _, _ := newTestAPI(t)

	_, err := runCmd(t, "withdraw", "--api-url", apiURL, "--eth-pk", funderPK)
	require.ErrorIs(t, err, ledger.ErrNotOwner)
}

func TestPriceCommand(t *testing.T) {
	apiURL, _, _ := newTestAPI(t)

	out, err := runCmd(t, "price", "--api-url", apiURL)
	require.NoError(t, err)
	require.Contains(t, out, "1 ETH = 2000 USD")
}

func TestWithdrawCommandSignedByOwnerKey(t *testing.T) {
	apiURL, _, l := newTestAPI(t)

	out, err := runCmd(t, "withdraw", "--api-url", apiURL, "--eth-pk", ownerPK)
	require.NoError(t, err)
	require.Contains(t, out, "Withdrew 0 ETH (0 funders cleared)")
	require.Equal(t, ownerAddr, l.GetOwner())
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "version: "+Version)
}

func TestRunServerPersistsGenesis(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := loadConfig(parseTestConfig(t,
		"--owner", ownerAddr.Hex(),
		"--listen-addr", "127.0.0.1:0",
		"--data-dir", dataDir,
		"--genesis", funderAddr.Hex()+"=3",
	))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, runServer(ctx, zerolog.Nop(), cfg))

	st, err := store.Open(dataDir)
	require.NoError(t, err)
	defer st.Close()

	snap, ok, err := st.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ownerAddr, snap.State.Owner)
	require.Equal(t, "3000000000000000000", snap.Balances[funderAddr].String())
	require.Zero(t, snap.State.Pooled.Sign())
}
