package model

type ActionKind int

const (
	ActionAddToken ActionKind = iota + 1
	ActionUpdateField
)

// Field names the token attribute an UpdateField action replaces.
type Field string

const (
	FieldBalance     Field = "balance"
	FieldType        Field = "type"
	FieldDisplayName Field = "displayName"
)

// Action is a declarative token-store mutation. Fetchers never write the
// store directly; they return actions that a single funnel applies.
type Action struct {
	Kind ActionKind

	// AddToken
	Token                           Token
	ShouldRefreshBalanceImmediately bool

	// UpdateField
	Identity    TokenIdentity
	Field       Field
	Balance     Balance
	Type        TokenType
	DisplayName string
}

func AddToken(t Token, shouldRefreshBalanceImmediately bool) Action {
	return Action{
		Kind:                            ActionAddToken,
		Token:                           t.Clone(),
		ShouldRefreshBalanceImmediately: shouldRefreshBalanceImmediately,
	}
}

func UpdateBalance(id TokenIdentity, b Balance) Action {
	return Action{Kind: ActionUpdateField, Identity: id, Field: FieldBalance, Balance: b.Clone()}
}

func UpdateType(id TokenIdentity, t TokenType) Action {
	return Action{Kind: ActionUpdateField, Identity: id, Field: FieldType, Type: t}
}

func UpdateDisplayName(id TokenIdentity, name string) Action {
	return Action{Kind: ActionUpdateField, Identity: id, Field: FieldDisplayName, DisplayName: name}
}

// Target returns the identity the action mutates.
func (a Action) Target() TokenIdentity {
	if a.Kind == ActionAddToken {
		return a.Token.Identity
	}
	return a.Identity
}
