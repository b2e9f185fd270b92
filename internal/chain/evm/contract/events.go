package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event signature topics.
var (
	TopicTransfer       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()
	TopicTransferSingle = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)")).Hex()
	TopicTransferBatch  = crypto.Keccak256Hash([]byte("TransferBatch(address,address,address,uint256[],uint256[])")).Hex()
)

var (
	uint256Type, _      = abi.NewType("uint256", "", nil)
	uint256ArrayType, _ = abi.NewType("uint256[]", "", nil)

	transferSingleData = abi.Arguments{{Name: "id", Type: uint256Type}, {Name: "value", Type: uint256Type}}
	transferBatchData  = abi.Arguments{{Name: "ids", Type: uint256ArrayType}, {Name: "values", Type: uint256ArrayType}}
)

// AddressTopic left-pads an address to a 32-byte indexed topic.
func AddressTopic(addr string) string {
	return common.BytesToHash(common.HexToAddress(addr).Bytes()).Hex()
}

// TopicAddress extracts the lower-case address held in an indexed topic.
func TopicAddress(topic string) string {
	return strings.ToLower(common.BytesToAddress(common.HexToHash(topic).Bytes()).Hex())
}

// DecodeTransferSingle decodes the (id, value) data of a TransferSingle log.
func DecodeTransferSingle(data string) (*big.Int, *big.Int, error) {
	raw, err := hexutil.Decode(data)
	if err != nil {
		return nil, nil, failure.Decode(fmt.Errorf("parse hex TransferSingle data: %w", err))
	}
	values, err := transferSingleData.Unpack(raw)
	if err != nil {
		return nil, nil, failure.Decode(fmt.Errorf("unpack TransferSingle: %w", err))
	}
	id, ok1 := values[0].(*big.Int)
	value, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, failure.Decode(fmt.Errorf("unpack TransferSingle: unexpected types %T, %T", values[0], values[1]))
	}
	return id, value, nil
}

// DecodeTransferBatch decodes the (ids, values) data of a TransferBatch log.
func DecodeTransferBatch(data string) ([]*big.Int, []*big.Int, error) {
	raw, err := hexutil.Decode(data)
	if err != nil {
		return nil, nil, failure.Decode(fmt.Errorf("parse hex TransferBatch data: %w", err))
	}
	values, err := transferBatchData.Unpack(raw)
	if err != nil {
		return nil, nil, failure.Decode(fmt.Errorf("unpack TransferBatch: %w", err))
	}
	ids, ok1 := values[0].([]*big.Int)
	amounts, ok2 := values[1].([]*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, failure.Decode(fmt.Errorf("unpack TransferBatch: unexpected types %T, %T", values[0], values[1]))
	}
	if len(ids) != len(amounts) {
		return nil, nil, failure.Decode(fmt.Errorf("TransferBatch ids and values length mismatch: %d != %d", len(ids), len(amounts)))
	}
	return ids, amounts, nil
}

// TopicUint256 decodes an indexed uint256 topic such as an ERC-721 token id.
func TopicUint256(topic string) (*big.Int, error) {
	raw, err := hexutil.Decode(topic)
	if err != nil {
		return nil, failure.Decode(fmt.Errorf("parse hex topic %q: %w", topic, err))
	}
	return new(big.Int).SetBytes(raw), nil
}
