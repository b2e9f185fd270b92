package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
)

// cumulativeJSON stores quantities as decimal strings so values beyond
// 2^53 survive JSON consumers other than Go.
type cumulativeJSON map[string]map[string]string

// EncodeBalances renders the cumulative balance map for storage.
func EncodeBalances(balances map[string]map[string]*big.Int) ([]byte, error) {
	out := make(cumulativeJSON, len(balances))
	for contract, byID := range balances {
		entry := make(map[string]string, len(byID))
		for tokenID, v := range byID {
			if v == nil {
				v = new(big.Int)
			}
			entry[tokenID] = v.String()
		}
		out[contract] = entry
	}
	return json.Marshal(out)
}

// DecodeBalances parses the output of EncodeBalances.
func DecodeBalances(raw []byte) (map[string]map[string]*big.Int, error) {
	var in cumulativeJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("unmarshal cumulative balances: %w", err)
	}
	out := make(map[string]map[string]*big.Int, len(in))
	for contract, byID := range in {
		entry := make(map[string]*big.Int, len(byID))
		for tokenID, s := range byID {
			v, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, fmt.Errorf("parse balance %s/%s: %q is not a decimal integer", contract, tokenID, s)
			}
			entry[tokenID] = v
		}
		out[contract] = entry
	}
	return out, nil
}

type cursorJSON struct {
	Wallet             string          `json:"wallet"`
	ChainID            int64           `json:"chain_id"`
	LastScannedBlock   uint64          `json:"last_scanned_block"`
	CumulativeBalances json.RawMessage `json:"cumulative_balances"`
	UpdatedAt          int64           `json:"updated_at_unix_ms"`
}

// EncodeCursor renders a whole cursor as one JSON document.
func EncodeCursor(c model.ScanCursor) ([]byte, error) {
	balances, err := EncodeBalances(c.CumulativeBalances)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cursorJSON{
		Wallet:             c.Wallet,
		ChainID:            c.ChainID,
		LastScannedBlock:   c.LastScannedBlock,
		CumulativeBalances: balances,
		UpdatedAt:          c.UpdatedAt.UnixMilli(),
	})
}

// DecodeCursor parses the output of EncodeCursor.
func DecodeCursor(raw []byte) (*model.ScanCursor, error) {
	var doc cursorJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	cursor := model.NewScanCursor(doc.Wallet, doc.ChainID)
	cursor.LastScannedBlock = doc.LastScannedBlock
	if doc.UpdatedAt != 0 {
		cursor.UpdatedAt = time.UnixMilli(doc.UpdatedAt).UTC()
	}
	if len(doc.CumulativeBalances) > 0 && strings.TrimSpace(string(doc.CumulativeBalances)) != "null" {
		balances, err := DecodeBalances(doc.CumulativeBalances)
		if err != nil {
			return nil, err
		}
		cursor.CumulativeBalances = balances
	}
	return &cursor, nil
}
