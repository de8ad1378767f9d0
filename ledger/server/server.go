package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/ledger/bank"
	"github.com/umee-network/fundme/ledger/metrics"
	"github.com/umee-network/fundme/ledger/store"
)

const (
	maxBodyBytes    = 1 << 16
	shutdownTimeout = 10 * time.Second
)

// ErrNotPersisted is returned for every write once a snapshot failed to commit.
// The in-memory ledger is then ahead of the store, so writes stay refused until
// the service is restarted from the last committed snapshot.
var ErrNotPersisted = errors.New("ledger state not persisted")

// BankReader exposes the balances the API reports and persists.
type BankReader interface {
	BalanceOf(addr common.Address) *big.Int
	Balances() map[common.Address]*big.Int
}

// Committer persists a snapshot after every authenticated mutating request.
type Committer interface {
	Commit(snap *store.Snapshot) error
}

type Server struct {
	logger   zerolog.Logger
	ledger   *ledger.Ledger
	bank     BankReader
	prices   ledger.PriceConverter
	nonces   *NonceTracker
	store    Committer
	metrics  *metrics.Ledger
	gatherer prometheus.Gatherer

	// serializes authenticate, mutate and commit
	mtx        sync.Mutex
	persistErr error
}

func New(
	logger zerolog.Logger,
	l *ledger.Ledger,
	balances BankReader,
	prices ledger.PriceConverter,
	options ...func(*Server),
) *Server {
	s := &Server{
		logger:   logger.With().Str("module", "server").Logger(),
		ledger:   l,
		bank:     balances,
		prices:   prices,
		nonces:   NewNonceTracker(nil),
		gatherer: prometheus.DefaultGatherer,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

func WithStore(c Committer) func(*Server) {
	return func(s *Server) { s.store = c }
}

func WithNonces(nonces map[common.Address]uint64) func(*Server) {
	return func(s *Server) { s.nonces = NewNonceTracker(nonces) }
}

func WithMetrics(m *metrics.Ledger) func(*Server) {
	return func(s *Server) { s.metrics = m }
}

func WithGatherer(g prometheus.Gatherer) func(*Server) {
	return func(s *Server) { s.gatherer = g }
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/owner", s.handleOwner)
		r.Get("/price-feed", s.handlePriceFeed)
		r.Get("/funders", s.handleFunders)
		r.Get("/funders/{index}", s.handleFunder)
		r.Get("/funded/{address}", s.handleFunded)
		r.Get("/balance/{address}", s.handleBalance)
		r.Get("/nonce/{address}", s.handleNonce)
		r.Get("/usd-value", s.handleUsdValue)

		r.Post("/fund", s.handleFund)
		r.Post("/withdraw", s.handleWithdraw(ledger.StrategyDirect))
		r.Post("/cheaper-withdraw", s.handleWithdraw(ledger.StrategyCached))
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen_addr", addr).Msg("starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "API server failed")

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Info().Msg("shutting down API server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "failed to shut down API server")
		}

		return nil
	}
}

// Snapshot captures everything the service persists.
func (s *Server) Snapshot() *store.Snapshot {
	return &store.Snapshot{
		State:    s.ledger.State(),
		Balances: s.bank.Balances(),
		Nonces:   s.nonces.Snapshot(),
	}
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OwnerResponse{Owner: s.ledger.GetOwner()})
}

func (s *Server) handlePriceFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PriceFeedResponse{PriceFeed: s.ledger.GetPriceFeed()})
}

func (s *Server) handleFunders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FundersResponse{Funders: s.ledger.Funders()})
}

func (s *Server) handleFunder(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid index"))
		return
	}

	funder, err := s.ledger.GetFunders(index)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, FunderResponse{Index: index, Funder: funder})
}

func (s *Server) handleFunded(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, AmountResponse{
		Address: addr,
		Amount:  s.ledger.GetAddressToAmountFunded(addr).String(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, AmountResponse{
		Address: addr,
		Amount:  s.bank.BalanceOf(addr).String(),
	})
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, NonceResponse{Address: addr, Nonce: s.nonces.Next(addr)})
}

func (s *Server) handleUsdValue(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	usd, err := s.prices.GetUsdValue(r.Context(), amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, UsdValueResponse{Amount: amount.String(), USD: usd.String()})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.persistErr != nil {
		writeError(w, http.StatusInternalServerError, s.persistErr)
		return
	}

	if err := s.nonces.authenticate(ActionFund, req); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	fundErr := s.ledger.Fund(r.Context(), req.From, amount)

	if err := s.commit(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if fundErr != nil {
		writeError(w, statusFor(fundErr), fundErr)
		return
	}

	writeJSON(w, http.StatusOK, FundResponse{
		Funder: req.From,
		Amount: amount.String(),
		Total:  s.ledger.GetAddressToAmountFunded(req.From).String(),
	})
}

func (s *Server) handleWithdraw(strategy ledger.Strategy) http.HandlerFunc {
	action := ActionWithdraw
	if strategy == ledger.StrategyCached {
		action = ActionCheaperWithdraw
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRequest(w, r)
		if !ok {
			return
		}

		s.mtx.Lock()
		defer s.mtx.Unlock()

		if s.persistErr != nil {
			writeError(w, http.StatusInternalServerError, s.persistErr)
			return
		}

		if err := s.nonces.authenticate(action, req); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		var (
			receipt *ledger.WithdrawReceipt
			err     error
		)
		if strategy == ledger.StrategyCached {
			receipt, err = s.ledger.CheaperWithdraw(r.Context(), req.From)
		} else {
			receipt, err = s.ledger.Withdraw(r.Context(), req.From)
		}

		if commitErr := s.commit(); commitErr != nil {
			writeError(w, http.StatusInternalServerError, commitErr)
			return
		}

		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		writeJSON(w, http.StatusOK, WithdrawResponse{
			Amount:         receipt.Amount.String(),
			FundersCleared: receipt.FundersCleared,
			StorageReads:   receipt.StorageReads,
			Strategy:       string(receipt.Strategy),
		})
	}
}

// commit persists the current snapshot. The consumed nonce is persisted even
// when the ledger operation failed. A failure halts every later write.
func (s *Server) commit() error {
	if s.store == nil {
		return nil
	}

	if err := s.store.Commit(s.Snapshot()); err != nil {
		s.persistErr = errors.Wrap(ErrNotPersisted, err.Error())
		s.metrics.IncPersistFailure()
		s.logger.Error().Err(err).Msg("failed to persist ledger snapshot; refusing further writes")

		return s.persistErr
	}

	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientContribution):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusConflict
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrBadNonce):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*SignedRequest, bool) {
	var req SignedRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "malformed request"))
		return nil, false
	}

	if req.Amount == "" {
		req.Amount = "0"
	}

	return &req, true
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, errors.Errorf("invalid address %q", raw))
		return common.Address{}, false
	}

	return common.HexToAddress(raw), true
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.Errorf("invalid amount %q", raw)
	}

	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
