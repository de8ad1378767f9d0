package server

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	ActionFund            = "fund"
	ActionWithdraw        = "withdraw"
	ActionCheaperWithdraw = "cheaper-withdraw"
)

var (
	ErrBadSignature = errors.New("bad signature")
	ErrBadNonce     = errors.New("bad nonce")
)

// SignedRequest is the body of every mutating request. Amount is a decimal wei
// string and is "0" for withdrawals.
type SignedRequest struct {
	From      common.Address `json:"from"`
	Amount    string         `json:"amount"`
	Nonce     uint64         `json:"nonce"`
	Signature string         `json:"signature"`
}

// SigningPayload is the personal message a caller signs for an action.
func SigningPayload(action, amount string, nonce uint64) []byte {
	return []byte(fmt.Sprintf("fundme:%s:%s:%d", action, amount, nonce))
}

// SignRequest builds a request for action signed by key.
func SignRequest(key *ecdsa.PrivateKey, action, amount string, nonce uint64) (*SignedRequest, error) {
	hash := accounts.TextHash(SigningPayload(action, amount, nonce))

	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign request")
	}
	sig[ethcrypto.RecoveryIDOffset] += 27

	return &SignedRequest{
		From:      ethcrypto.PubkeyToAddress(key.PublicKey),
		Amount:    amount,
		Nonce:     nonce,
		Signature: hexutil.Encode(sig),
	}, nil
}

// Signer recovers the address that signed req for action.
func (req *SignedRequest) Signer(action string) (common.Address, error) {
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrBadSignature, err.Error())
	}

	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrBadSignature, "length %d", len(sig))
	}

	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash(SigningPayload(action, req.Amount, req.Nonce))

	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrBadSignature, err.Error())
	}

	return ethcrypto.PubkeyToAddress(*pub), nil
}

// NonceTracker hands out strictly increasing per-address request nonces.
type NonceTracker struct {
	mtx  sync.Mutex
	next map[common.Address]uint64
}

func NewNonceTracker(initial map[common.Address]uint64) *NonceTracker {
	next := make(map[common.Address]uint64, len(initial))
	for addr, n := range initial {
		next[addr] = n
	}

	return &NonceTracker{next: next}
}

// Next returns the nonce the next request from addr must carry.
func (t *NonceTracker) Next(addr common.Address) uint64 {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	return t.next[addr]
}

// Consume accepts nonce for addr if it is the expected one and advances.
func (t *NonceTracker) Consume(addr common.Address, nonce uint64) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if expected := t.next[addr]; nonce != expected {
		return errors.Wrapf(ErrBadNonce, "got %d, expected %d", nonce, expected)
	}

	t.next[addr] = nonce + 1

	return nil
}

func (t *NonceTracker) Snapshot() map[common.Address]uint64 {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	out := make(map[common.Address]uint64, len(t.next))
	for addr, n := range t.next {
		out[addr] = n
	}

	return out
}

// authenticate checks the signature and consumes the nonce of req.
func (t *NonceTracker) authenticate(action string, req *SignedRequest) error {
	signer, err := req.Signer(action)
	if err != nil {
		return err
	}

	if signer != req.From {
		return errors.Wrapf(ErrBadSignature, "signed by %s, not %s", signer.Hex(), req.From.Hex())
	}

	return t.Consume(req.From, req.Nonce)
}
