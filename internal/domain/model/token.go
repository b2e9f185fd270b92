package model

import (
	"strconv"
	"strings"
	"time"
)

// NativeContract is the placeholder address under which the native coin is stored.
const NativeContract = "0x0000000000000000000000000000000000000000"

// TokenIdentity is the unique key of a token across every entity.
type TokenIdentity struct {
	Contract string
	ChainID  int64
}

// NewTokenIdentity normalises the contract address to lower-case hex.
func NewTokenIdentity(contract string, chainID int64) TokenIdentity {
	return TokenIdentity{Contract: NormalizeAddress(contract), ChainID: chainID}
}

func (id TokenIdentity) Key() string {
	return strconv.FormatInt(id.ChainID, 10) + ":" + id.Contract
}

func (id TokenIdentity) String() string {
	return id.Key()
}

// NormalizeAddress lower-cases and trims an address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

type TokenType string

const (
	TokenTypeNative           TokenType = "native"
	TokenTypeERC20            TokenType = "erc20"
	TokenTypeERC875           TokenType = "erc875"
	TokenTypeERC721           TokenType = "erc721"
	TokenTypeERC721ForTickets TokenType = "erc721ForTickets"
	TokenTypeERC1155          TokenType = "erc1155"
)

func (t TokenType) String() string {
	return string(t)
}

// IsNonFungible reports whether balances of this type are NonFungibleBalance values.
func (t TokenType) IsNonFungible() bool {
	switch t {
	case TokenTypeERC875, TokenTypeERC721, TokenTypeERC721ForTickets, TokenTypeERC1155:
		return true
	}
	return false
}

// HasInventory reports whether the type carries a per-item asset inventory
// that is reconciled from the indexer.
func (t TokenType) HasInventory() bool {
	return t == TokenTypeERC721 || t == TokenTypeERC1155
}

// NeedsStandaloneBalanceFetch reports whether a freshly added token of this
// type has no balance until a dedicated balance call runs.
func (t TokenType) NeedsStandaloneBalanceFetch() bool {
	switch t {
	case TokenTypeNative, TokenTypeERC20, TokenTypeERC875, TokenTypeERC721ForTickets:
		return true
	}
	return false
}

// Token is one record of a wallet's token store.
type Token struct {
	Identity  TokenIdentity
	Name      string
	Symbol    string
	Decimals  int
	Type      TokenType
	Balance   Balance
	UpdatedAt time.Time
}

// Clone returns a deep copy; store snapshots never share balance slices.
func (t Token) Clone() Token {
	t.Balance = t.Balance.Clone()
	return t
}
