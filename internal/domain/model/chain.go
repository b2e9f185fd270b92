package model

import "strconv"

// Chain describes one EVM network the service reads balances from.
type Chain struct {
	ID             int64  `yaml:"id"`
	Name           string `yaml:"name"`
	RPCURL         string `yaml:"rpc_url"`
	NativeSymbol   string `yaml:"native_symbol"`
	NativeDecimals int    `yaml:"native_decimals"`

	// MaxBlockRange bounds a single eth_getLogs window. Zero means the node
	// accepts any range and scans run to the latest block.
	MaxBlockRange uint64 `yaml:"max_block_range"`

	// DiscoveryStartBlock is where owner-indexed ERC-721 discovery starts
	// paginating on bounded chains.
	DiscoveryStartBlock uint64 `yaml:"discovery_start_block"`
}

// Bounded reports whether log queries on this chain must be windowed.
func (c Chain) Bounded() bool {
	return c.MaxBlockRange > 0
}

func (c Chain) String() string {
	if c.Name != "" {
		return c.Name
	}
	return strconv.FormatInt(c.ID, 10)
}

// NativeIdentity is the pseudo-contract identity used for the chain's native coin.
func (c Chain) NativeIdentity() TokenIdentity {
	return TokenIdentity{Contract: NativeContract, ChainID: c.ID}
}
