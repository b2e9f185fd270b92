package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/emperorhan/wallet-inventory/internal/chain/evm/rpc"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Caller executes a read-only eth_call.
type Caller interface {
	Call(ctx context.Context, msg rpc.CallMsg) ([]byte, error)
}

// Reader performs typed view calls against token contracts.
type Reader struct {
	caller Caller
}

func NewReader(caller Caller) *Reader {
	return &Reader{caller: caller}
}

// ERC20Balance returns balanceOf(owner) of a fungible token.
func (r *Reader) ERC20Balance(ctx context.Context, contract, owner string) (*big.Int, error) {
	var balance *big.Int
	if err := r.invoke(ctx, erc20ABI, contract, "balanceOf", &balance, common.HexToAddress(owner)); err != nil {
		return nil, err
	}
	return balance, nil
}

// Name returns the contract's name().
func (r *Reader) Name(ctx context.Context, contract string) (string, error) {
	var name string
	if err := r.invoke(ctx, erc20ABI, contract, "name", &name); err != nil {
		return "", err
	}
	return name, nil
}

// ERC875Balance returns the ticket slots of owner as 0x-prefixed 32-byte hex strings.
func (r *Reader) ERC875Balance(ctx context.Context, contract, owner string) ([]string, error) {
	var slots [][32]byte
	if err := r.invoke(ctx, erc875ABI, contract, "balanceOf", &slots, common.HexToAddress(owner)); err != nil {
		return nil, err
	}
	out := make([]string, len(slots))
	for i, slot := range slots {
		out[i] = hexutil.Encode(slot[:])
	}
	return out, nil
}

// ERC721ForTicketsBalances returns getBalances(owner) as 0x-prefixed 32-byte hex strings.
func (r *Reader) ERC721ForTicketsBalances(ctx context.Context, contract, owner string) ([]string, error) {
	var values []*big.Int
	if err := r.invoke(ctx, erc721ForTicketsABI, contract, "getBalances", &values, common.HexToAddress(owner)); err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf("0x%064x", v)
	}
	return out, nil
}

// ERC721TokenURI returns tokenURI(id).
func (r *Reader) ERC721TokenURI(ctx context.Context, contract string, id *big.Int) (string, error) {
	var uri string
	if err := r.invoke(ctx, erc721ABI, contract, "tokenURI", &uri, id); err != nil {
		return "", err
	}
	return uri, nil
}

// ERC1155URI returns uri(id). The result may contain the {id} placeholder.
func (r *Reader) ERC1155URI(ctx context.Context, contract string, id *big.Int) (string, error) {
	var uri string
	if err := r.invoke(ctx, erc1155ABI, contract, "uri", &uri, id); err != nil {
		return "", err
	}
	return uri, nil
}

// ERC1155BalanceOfBatch returns the balance of owner for each id, in ids order.
func (r *Reader) ERC1155BalanceOfBatch(ctx context.Context, contract, owner string, ids []*big.Int) ([]*big.Int, error) {
	if len(ids) == 0 {
		return []*big.Int{}, nil
	}
	ownerAddr := common.HexToAddress(owner)
	accounts := make([]common.Address, len(ids))
	for i := range ids {
		accounts[i] = ownerAddr
	}

	var balances []*big.Int
	if err := r.invoke(ctx, erc1155ABI, contract, "balanceOfBatch", &balances, accounts, ids); err != nil {
		return nil, err
	}
	if len(balances) != len(ids) {
		return nil, failure.Decode(fmt.Errorf("balanceOfBatch(%s): got %d balances for %d ids", contract, len(balances), len(ids)))
	}
	return balances, nil
}

func (r *Reader) invoke(ctx context.Context, contractABI abi.ABI, contract, method string, out interface{}, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := r.caller.Call(ctx, rpc.CallMsg{
		To:   common.HexToAddress(contract).Hex(),
		Data: hexutil.Encode(data),
	})
	if err != nil {
		return fmt.Errorf("%s(%s): %w", method, contract, err)
	}
	if len(result) == 0 {
		return failure.NotFound(fmt.Errorf("%s(%s): empty return data", method, contract))
	}

	if err := contractABI.UnpackIntoInterface(out, method, result); err != nil {
		return failure.Decode(fmt.Errorf("unpack %s(%s): %w", method, contract, err))
	}
	return nil
}
