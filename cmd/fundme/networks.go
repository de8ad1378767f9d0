package fundme

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Network is a known deployment target.
type Network struct {
	Name            string
	ChainID         uint64
	EthUsdPriceFeed common.Address
	Development     bool
}

var networks = []Network{
	{Name: "goerli", ChainID: 5, EthUsdPriceFeed: common.HexToAddress("0xD4a33860578De61DBAbDc8BFdb98FD742fA7028e")},
	{Name: "polygon", ChainID: 137, EthUsdPriceFeed: common.HexToAddress("0xF9680D99D6C9589e2a93a78A04A279e509205945")},
	{Name: "sepolia", ChainID: 11155111, EthUsdPriceFeed: common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")},
	{Name: "hardhat", ChainID: 31337, Development: true},
	{Name: "localhost", ChainID: 31337, Development: true},
}

// lookupNetwork resolves a network by name or chain ID.
func lookupNetwork(nameOrID string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrID))

	for _, n := range networks {
		if n.Name == key {
			return n, nil
		}
	}

	if id, err := strconv.ParseUint(key, 10, 64); err == nil {
		for _, n := range networks {
			if n.ChainID == id {
				return n, nil
			}
		}
	}

	return Network{}, errors.Errorf("unknown network %q", nameOrID)
}
