package model

import (
	"math/big"
	"strings"
)

type BalanceKind int

const (
	BalanceNone BalanceKind = iota
	BalanceFungible
	BalanceNonFungible
)

type NonFungibleKind int

const (
	NonFungibleERC875List NonFungibleKind = iota + 1
	NonFungibleERC721ForTicketsList
	NonFungibleAssetList
)

// NonFungibleBalance holds either a list of hex-encoded ticket slots or a
// list of asset records, depending on Kind.
type NonFungibleBalance struct {
	Kind      NonFungibleKind
	HexValues []string
	Assets    []NftAssetRecord
}

// Balance is the resolved holding of one token.
type Balance struct {
	Kind        BalanceKind
	Amount      *big.Int
	NonFungible NonFungibleBalance
}

func FungibleBalance(amount *big.Int) Balance {
	if amount == nil {
		amount = new(big.Int)
	}
	return Balance{Kind: BalanceFungible, Amount: new(big.Int).Set(amount)}
}

func ERC875Balance(values []string) Balance {
	return Balance{Kind: BalanceNonFungible, NonFungible: NonFungibleBalance{
		Kind:      NonFungibleERC875List,
		HexValues: append([]string(nil), values...),
	}}
}

func ERC721ForTicketsBalance(values []string) Balance {
	return Balance{Kind: BalanceNonFungible, NonFungible: NonFungibleBalance{
		Kind:      NonFungibleERC721ForTicketsList,
		HexValues: append([]string(nil), values...),
	}}
}

func AssetBalance(assets []NftAssetRecord) Balance {
	cloned := make([]NftAssetRecord, len(assets))
	for i, a := range assets {
		cloned[i] = a.Clone()
	}
	return Balance{Kind: BalanceNonFungible, NonFungible: NonFungibleBalance{
		Kind:   NonFungibleAssetList,
		Assets: cloned,
	}}
}

// Count is the number of held items of a non-fungible balance. Fungible
// balances report 0.
func (b Balance) Count() int {
	if b.Kind != BalanceNonFungible {
		return 0
	}
	switch b.NonFungible.Kind {
	case NonFungibleAssetList:
		return len(b.NonFungible.Assets)
	default:
		n := 0
		for _, v := range b.NonFungible.HexValues {
			if !isZeroHex(v) {
				n++
			}
		}
		return n
	}
}

func (b Balance) Clone() Balance {
	out := Balance{Kind: b.Kind}
	if b.Amount != nil {
		out.Amount = new(big.Int).Set(b.Amount)
	}
	out.NonFungible.Kind = b.NonFungible.Kind
	if b.NonFungible.HexValues != nil {
		out.NonFungible.HexValues = append([]string(nil), b.NonFungible.HexValues...)
	}
	if b.NonFungible.Assets != nil {
		out.NonFungible.Assets = make([]NftAssetRecord, len(b.NonFungible.Assets))
		for i, a := range b.NonFungible.Assets {
			out.NonFungible.Assets[i] = a.Clone()
		}
	}
	return out
}

func (b Balance) Equal(o Balance) bool {
	if b.Kind != o.Kind {
		return false
	}
	switch b.Kind {
	case BalanceFungible:
		return bigEqual(b.Amount, o.Amount)
	case BalanceNonFungible:
		if b.NonFungible.Kind != o.NonFungible.Kind ||
			len(b.NonFungible.HexValues) != len(o.NonFungible.HexValues) ||
			len(b.NonFungible.Assets) != len(o.NonFungible.Assets) {
			return false
		}
		for i := range b.NonFungible.HexValues {
			if b.NonFungible.HexValues[i] != o.NonFungible.HexValues[i] {
				return false
			}
		}
		for i := range b.NonFungible.Assets {
			if !b.NonFungible.Assets[i].Equal(o.NonFungible.Assets[i]) {
				return false
			}
		}
	}
	return true
}

func isZeroHex(v string) bool {
	return strings.Trim(strings.TrimPrefix(strings.ToLower(v), "0x"), "0") == ""
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}
