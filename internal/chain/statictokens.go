package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// StaticTokenDefinition covers tokens whose contracts misreport or omit
// ERC20 metadata. Checked before giving up on a token whose decimals read
// failed.
type StaticTokenDefinition struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals int64
}

var staticTokenDefinitions = []StaticTokenDefinition{
	{
		Address:  common.HexToAddress("0x19aac5f612f524b754ca7e7c41cbfa2e981a4432"),
		Symbol:   "WKLAY",
		Name:     "Wrapped Klay",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0xcee8faf64bb97a73bb51e115aa89c17ffa8dd167"),
		Symbol:   "oUSDT",
		Name:     "Orbit Bridge Klaytn USD Tether",
		Decimals: 6,
	},
	{
		Address:  common.HexToAddress("0x754288077d0ff82af7a5317c7cb8c444d421d103"),
		Symbol:   "oUSDC",
		Name:     "Orbit Bridge Klaytn USD Coin",
		Decimals: 6,
	},
	{
		Address:  common.HexToAddress("0x34d21b1e550d73cee41151c77f3c73359527a396"),
		Symbol:   "oETH",
		Name:     "Orbit Bridge Klaytn Ethereum",
		Decimals: 18,
	},
}

// StaticTokenFromAddress returns the static definition for an address, or
// false when none is registered.
func StaticTokenFromAddress(address common.Address) (StaticTokenDefinition, bool) {
	for _, def := range staticTokenDefinitions {
		if strings.EqualFold(def.Address.Hex(), address.Hex()) {
			return def, true
		}
	}
	return StaticTokenDefinition{}, false
}
