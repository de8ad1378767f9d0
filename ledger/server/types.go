package server

import (
	"github.com/ethereum/go-ethereum/common"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OwnerResponse struct {
	Owner common.Address `json:"owner"`
}

type PriceFeedResponse struct {
	PriceFeed common.Address `json:"price_feed"`
}

type FundersResponse struct {
	Funders []common.Address `json:"funders"`
}

type FunderResponse struct {
	Index  int            `json:"index"`
	Funder common.Address `json:"funder"`
}

// AmountResponse carries a wei amount as a decimal string.
type AmountResponse struct {
	Address common.Address `json:"address"`
	Amount  string         `json:"amount"`
}

type NonceResponse struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

type UsdValueResponse struct {
	Amount string `json:"amount"`
	USD    string `json:"usd"`
}

type FundResponse struct {
	Funder common.Address `json:"funder"`
	Amount string         `json:"amount"`
	Total  string         `json:"total"`
}

type WithdrawResponse struct {
	Amount         string `json:"amount"`
	FundersCleared int    `json:"funders_cleared"`
	StorageReads   int    `json:"storage_reads"`
	Strategy       string `json:"strategy"`
}
