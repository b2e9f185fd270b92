package indexer

import (
	"encoding/json"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
)

// Schema is the token standard the indexer reports for a contract.
type Schema string

const (
	SchemaERC721  Schema = "ERC721"
	SchemaERC1155 Schema = "ERC1155"
)

// Ambiguous reports whether the indexer did not name a standard we know.
func (s Schema) Ambiguous() bool {
	return s != SchemaERC721 && s != SchemaERC1155
}

// TokenType maps the schema onto the store's token type. Ambiguous schemas
// map to erc721.
func (s Schema) TokenType() model.TokenType {
	if s == SchemaERC1155 {
		return model.TokenTypeERC1155
	}
	return model.TokenTypeERC721
}

// ContractInventory is everything the indexer knows about one contract of
// the wallet.
type ContractInventory struct {
	Contract string
	Name     string
	Schema   Schema
	Assets   []model.NftAssetRecord
}

// Inventory is a wallet's indexer response keyed by lower-case contract.
// A nil or empty Inventory means the indexer returned nothing, whether by
// outage or because the wallet holds no NFTs.
type Inventory map[string]ContractInventory

// TokenIDCount is the number of distinct asset records across contracts.
func (inv Inventory) TokenIDCount() int {
	n := 0
	for _, c := range inv {
		n += len(c.Assets)
	}
	return n
}

func (inv Inventory) Has(contract string) bool {
	_, ok := inv[model.NormalizeAddress(contract)]
	return ok
}

func (inv Inventory) Clone() Inventory {
	if inv == nil {
		return nil
	}
	out := make(Inventory, len(inv))
	for k, c := range inv {
		assets := make([]model.NftAssetRecord, len(c.Assets))
		for i, a := range c.Assets {
			assets[i] = a.Clone()
		}
		c.Assets = assets
		out[k] = c
	}
	return out
}

type assetsPage struct {
	Assets []assetJSON `json:"assets"`
	Next   string      `json:"next"`
}

type assetJSON struct {
	Contract       string          `json:"contract"`
	TokenID        string          `json:"token_id"`
	TokenStandard  string          `json:"token_standard"`
	CollectionName string          `json:"collection_name"`
	Metadata       json.RawMessage `json:"metadata"`
	Quantity       string          `json:"quantity"`
}
