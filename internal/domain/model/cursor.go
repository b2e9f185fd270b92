package model

import (
	"math/big"
	"time"
)

// ScanCursor is the resumable ERC-1155 scan progress of one (wallet, chain).
// CumulativeBalances is keyed by contract then decimal token-id and holds the
// signed sum of every delta applied since the cursor was created.
type ScanCursor struct {
	Wallet             string                         `json:"wallet"`
	ChainID            int64                          `json:"chain_id"`
	CumulativeBalances map[string]map[string]*big.Int `json:"cumulative_balances"`
	LastScannedBlock   uint64                         `json:"last_scanned_block"`
	UpdatedAt          time.Time                      `json:"updated_at"`
}

// NewScanCursor returns the cursor of a wallet/chain that was never scanned.
func NewScanCursor(wallet string, chainID int64) ScanCursor {
	return ScanCursor{
		Wallet:             NormalizeAddress(wallet),
		ChainID:            chainID,
		CumulativeBalances: map[string]map[string]*big.Int{},
	}
}

// Quantity returns the cumulative balance for (contract, tokenID), zero when absent.
func (c ScanCursor) Quantity(contract, tokenID string) *big.Int {
	if byID, ok := c.CumulativeBalances[contract]; ok {
		if v, ok := byID[tokenID]; ok && v != nil {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

// Contracts lists the contracts present in the cumulative map.
func (c ScanCursor) Contracts() []string {
	out := make([]string, 0, len(c.CumulativeBalances))
	for contract := range c.CumulativeBalances {
		out = append(out, contract)
	}
	return out
}

func (c ScanCursor) Clone() ScanCursor {
	c.CumulativeBalances = cloneBalances(c.CumulativeBalances)
	return c
}

// MergeDeltas returns new[c][t] = old.get(c,t,0) + delta.get(c,t,0) for every
// key present in either map. Neither input is modified.
func MergeDeltas(old, delta map[string]map[string]*big.Int) map[string]map[string]*big.Int {
	out := cloneBalances(old)
	for contract, byID := range delta {
		dst, ok := out[contract]
		if !ok {
			dst = make(map[string]*big.Int, len(byID))
			out[contract] = dst
		}
		for tokenID, d := range byID {
			if d == nil {
				d = new(big.Int)
			}
			if cur, ok := dst[tokenID]; ok && cur != nil {
				dst[tokenID] = new(big.Int).Add(cur, d)
			} else {
				dst[tokenID] = new(big.Int).Set(d)
			}
		}
	}
	return out
}

func cloneBalances(in map[string]map[string]*big.Int) map[string]map[string]*big.Int {
	out := make(map[string]map[string]*big.Int, len(in))
	for contract, byID := range in {
		cp := make(map[string]*big.Int, len(byID))
		for tokenID, v := range byID {
			if v == nil {
				cp[tokenID] = new(big.Int)
				continue
			}
			cp[tokenID] = new(big.Int).Set(v)
		}
		out[contract] = cp
	}
	return out
}
