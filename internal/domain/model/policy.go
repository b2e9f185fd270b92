package model

type RefreshKind int

const (
	RefreshAllKind RefreshKind = iota + 1
	RefreshNativeOnlyKind
	RefreshTokensKind
	RefreshSingleTokenKind
)

// RefreshPolicy selects which of a wallet's tokens a refresh touches.
type RefreshPolicy struct {
	Kind   RefreshKind
	Tokens []TokenIdentity
}

func RefreshAll() RefreshPolicy { return RefreshPolicy{Kind: RefreshAllKind} }

func RefreshNativeOnly() RefreshPolicy { return RefreshPolicy{Kind: RefreshNativeOnlyKind} }

func RefreshTokens(ids ...TokenIdentity) RefreshPolicy {
	return RefreshPolicy{Kind: RefreshTokensKind, Tokens: append([]TokenIdentity(nil), ids...)}
}

func RefreshSingleToken(id TokenIdentity) RefreshPolicy {
	return RefreshPolicy{Kind: RefreshSingleTokenKind, Tokens: []TokenIdentity{id}}
}

// Includes reports whether a token of the given type falls under the policy.
func (p RefreshPolicy) Includes(id TokenIdentity, t TokenType) bool {
	switch p.Kind {
	case RefreshAllKind:
		return true
	case RefreshNativeOnlyKind:
		return t == TokenTypeNative
	case RefreshTokensKind, RefreshSingleTokenKind:
		for _, candidate := range p.Tokens {
			if candidate == id {
				return true
			}
		}
	}
	return false
}

// WalletWide reports whether the refresh covers every token the wallet holds,
// including tokens not yet present in the store.
func (p RefreshPolicy) WalletWide() bool {
	return p.Kind == RefreshAllKind
}

func (p RefreshPolicy) String() string {
	switch p.Kind {
	case RefreshAllKind:
		return "all"
	case RefreshNativeOnlyKind:
		return "nativeOnly"
	case RefreshTokensKind:
		return "tokens"
	case RefreshSingleTokenKind:
		return "singleToken"
	}
	return "unknown"
}
