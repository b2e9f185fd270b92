package event

import (
	"math/big"
	"sort"
)

// Direction is the side of a transfer the scanned wallet is on.
type Direction int

const (
	DirectionSend Direction = iota + 1
	DirectionReceive
)

func (d Direction) String() string {
	switch d {
	case DirectionSend:
		return "send"
	case DirectionReceive:
		return "receive"
	}
	return "unknown"
}

// TransferRecord is one token-id movement into or out of the scanned wallet.
// A batch transfer log yields one record per id, distinguished by BatchIndex.
type TransferRecord struct {
	Contract    string
	TokenID     *big.Int
	Value       *big.Int
	Direction   Direction
	BlockNumber uint64
	TxIndex     uint64
	LogIndex    uint64
	BatchIndex  int
}

// Less orders records by chain position. Within one log, sends precede
// receives so a self-transfer replays as leave-then-return.
func (r TransferRecord) Less(o TransferRecord) bool {
	if r.BlockNumber != o.BlockNumber {
		return r.BlockNumber < o.BlockNumber
	}
	if r.TxIndex != o.TxIndex {
		return r.TxIndex < o.TxIndex
	}
	if r.LogIndex != o.LogIndex {
		return r.LogIndex < o.LogIndex
	}
	if r.BatchIndex != o.BatchIndex {
		return r.BatchIndex < o.BatchIndex
	}
	return r.Direction < o.Direction
}

// SortTransfers sorts records in place by (block, tx index, log index).
func SortTransfers(records []TransferRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Less(records[j]) })
}

// SignedValue is +Value for receives and -Value for sends.
func (r TransferRecord) SignedValue() *big.Int {
	v := new(big.Int)
	if r.Value != nil {
		v.Set(r.Value)
	}
	if r.Direction == DirectionSend {
		v.Neg(v)
	}
	return v
}
