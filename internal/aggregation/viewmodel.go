package aggregation

import (
	"encoding/binary"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Ticker is a price quote for one token.
type Ticker struct {
	Price     decimal.Decimal
	Change24h decimal.Decimal // percent
	Currency  string
	UpdatedAt time.Time
}

// Override is the script-driven display state of one token.
// DisplayValue may reference the ticker-enriched value as ${fiat} or ${value}.
type Override struct {
	DisplayName  string
	DisplayValue string
	Attributes   map[string]string
}

type Presentation int

const (
	PresentationScalar Presentation = iota + 1
	PresentationCollection
)

// TokenViewModel is an immutable snapshot. Build returns a fresh value on
// every rebuild and nothing holds a reference into it.
type TokenViewModel struct {
	Identity     model.TokenIdentity
	Type         model.TokenType
	Symbol       string
	Decimals     int
	Presentation Presentation

	// Scalar presentation.
	Amount *big.Int
	Value  decimal.Decimal

	// Ticker overlay.
	Priced     bool
	Currency   string
	FiatValue  decimal.Decimal
	FiatChange decimal.Decimal
	Change24h  decimal.Decimal

	// Collection presentation.
	Count  int
	Assets []model.NftAssetRecord

	// Script overlay.
	DisplayName  string
	DisplayValue string
	Attributes   map[string]string

	UpdatedAt time.Time
}

// Build derives the view model of token. The ticker overlay is applied
// before the script overlay, which may read the fiat value.
func Build(token model.Token, ticker *Ticker, override *Override) TokenViewModel {
	vm := base(token)
	if ticker != nil {
		vm = withTicker(vm, *ticker)
	}
	if override != nil {
		vm = withOverride(vm, *override)
	}
	return vm
}

func base(t model.Token) TokenViewModel {
	vm := TokenViewModel{
		Identity:    t.Identity,
		Type:        t.Type,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		DisplayName: t.Name,
		UpdatedAt:   t.UpdatedAt,
	}
	if vm.DisplayName == "" {
		vm.DisplayName = t.Symbol
	}

	switch t.Type {
	case model.TokenTypeNative, model.TokenTypeERC20:
		vm.Presentation = PresentationScalar
		amount := new(big.Int)
		if t.Balance.Kind == model.BalanceFungible && t.Balance.Amount != nil {
			amount.Set(t.Balance.Amount)
		}
		vm.Amount = amount
		vm.Value = decimal.NewFromBigInt(amount, -int32(t.Decimals))
		vm.DisplayValue = strings.TrimSpace(vm.Value.String() + " " + t.Symbol)
	default:
		vm.Presentation = PresentationCollection
		vm.Count = t.Balance.Count()
		for _, a := range t.Balance.NonFungible.Assets {
			vm.Assets = append(vm.Assets, a.Clone())
		}
		vm.DisplayValue = decimal.NewFromInt(int64(vm.Count)).String()
	}
	return vm
}

func withTicker(vm TokenViewModel, t Ticker) TokenViewModel {
	if vm.Presentation != PresentationScalar {
		return vm
	}
	vm.Priced = true
	vm.Currency = t.Currency
	vm.Change24h = t.Change24h
	vm.FiatValue = vm.Value.Mul(t.Price).Round(2)
	vm.FiatChange = vm.FiatValue.Mul(t.Change24h).Div(decimal.NewFromInt(100)).Round(2)
	return vm
}

func withOverride(vm TokenViewModel, o Override) TokenViewModel {
	if o.DisplayName != "" {
		vm.DisplayName = o.DisplayName
	}
	if o.DisplayValue != "" {
		vm.DisplayValue = strings.NewReplacer(
			"${fiat}", vm.FiatValue.StringFixed(2),
			"${value}", vm.Value.String(),
		).Replace(o.DisplayValue)
	}
	if len(o.Attributes) > 0 {
		attrs := make(map[string]string, len(o.Attributes))
		for k, v := range o.Attributes {
			attrs[k] = v
		}
		vm.Attributes = attrs
	}
	return vm
}

// ContentHash hashes the visible content of a view-model list.
func ContentHash(vms []TokenViewModel) uint64 {
	h := xxhash.New()
	var buf [8]byte
	writeString := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	writeInt := func(n int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		_, _ = h.Write(buf[:])
	}

	for _, vm := range vms {
		writeString(vm.Identity.Key())
		writeString(string(vm.Type))
		writeString(vm.DisplayName)
		writeString(vm.DisplayValue)
		writeString(vm.Currency)
		writeString(vm.FiatValue.String())
		writeString(vm.Change24h.String())
		if vm.Amount != nil {
			writeString(vm.Amount.String())
		}
		writeInt(int64(vm.Count))
		for _, a := range vm.Assets {
			writeString(a.TokenID)
			writeString(string(a.RawMetadata))
			if a.Quantity != nil {
				writeString(a.Quantity.String())
			}
		}
		keys := make([]string, 0, len(vm.Attributes))
		for k := range vm.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeString(k)
			writeString(vm.Attributes[k])
		}
	}
	return h.Sum64()
}
