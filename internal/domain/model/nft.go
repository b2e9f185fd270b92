package model

import (
	"bytes"
	"encoding/json"
	"math/big"
)

// Provenance records which source produced an asset record. It drives merge
// precedence only and is never shown to users.
type Provenance string

const (
	ProvenanceIndexerPrimary    Provenance = "indexerPrimary"
	ProvenanceSecondaryProvider Provenance = "secondaryProvider"
	ProvenanceOnChainFallback   Provenance = "onChainFallback"
)

// Rank orders provenances; higher wins a merge.
func (p Provenance) Rank() int {
	switch p {
	case ProvenanceIndexerPrimary:
		return 3
	case ProvenanceSecondaryProvider:
		return 2
	case ProvenanceOnChainFallback:
		return 1
	}
	return 0
}

// NftAssetRecord is one owned token-id of an ERC-721 or ERC-1155 contract.
type NftAssetRecord struct {
	TokenID     string
	RawMetadata json.RawMessage
	Quantity    *big.Int
	Provenance  Provenance
}

func (a NftAssetRecord) Clone() NftAssetRecord {
	if a.RawMetadata != nil {
		a.RawMetadata = append(json.RawMessage(nil), a.RawMetadata...)
	}
	if a.Quantity != nil {
		a.Quantity = new(big.Int).Set(a.Quantity)
	}
	return a
}

func (a NftAssetRecord) Equal(o NftAssetRecord) bool {
	return a.TokenID == o.TokenID &&
		a.Provenance == o.Provenance &&
		bigEqual(a.Quantity, o.Quantity) &&
		bytes.Equal(a.RawMetadata, o.RawMetadata)
}

// QuantityOrOne returns the held quantity, treating an unset quantity as a
// single ERC-721 item.
func (a NftAssetRecord) QuantityOrOne() *big.Int {
	if a.Quantity == nil {
		return big.NewInt(1)
	}
	return new(big.Int).Set(a.Quantity)
}
