package ledger

import (
	"github.com/pkg/errors"

	"github.com/umee-network/fundme/ledger/pricefeed"
)

var (
	ErrInsufficientContribution = errors.New("You need to spend more ETH!")
	ErrNotOwner                 = errors.New("caller is not the owner")
	ErrTransferFailed           = errors.New("transfer failed")
	ErrIndexOutOfRange          = errors.New("index out of range")
	ErrInvalidState             = errors.New("invalid ledger state")

	// ErrOracleUnavailable is returned when the price feed gives no usable reading.
	ErrOracleUnavailable = pricefeed.ErrOracleUnavailable
)
