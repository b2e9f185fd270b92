package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/emperorhan/wallet-inventory/internal/chain/evm/rpc"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	calls  []rpc.CallMsg
	result []byte
	err    error
}

func (f *fakeCaller) Call(_ context.Context, msg rpc.CallMsg) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.result, f.err
}

func packOutputs(t *testing.T, contractABI abi.ABI, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := contractABI.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

const (
	contractAddr = "0x00000000000000000000000000000000000000aa"
	ownerAddr    = "0x00000000000000000000000000000000000000bb"
)

func TestERC20Balance(t *testing.T) {
	caller := &fakeCaller{result: packOutputs(t, erc20ABI, "balanceOf", big.NewInt(1234))}
	reader := NewReader(caller)

	bal, err := reader.ERC20Balance(context.Background(), contractAddr, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), bal.Int64())

	require.Len(t, caller.calls, 1)
	assert.True(t, strings.EqualFold(contractAddr, caller.calls[0].To))
	assert.True(t, strings.HasPrefix(caller.calls[0].Data, "0x70a08231"), "balanceOf selector")
}

func TestERC875Balance_HexSlots(t *testing.T) {
	var slot [32]byte
	slot[31] = 0x05
	caller := &fakeCaller{result: packOutputs(t, erc875ABI, "balanceOf", [][32]byte{slot, {}})}

	slots, err := NewReader(caller).ERC875Balance(context.Background(), contractAddr, ownerAddr)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "0x"+strings.Repeat("0", 62)+"05", slots[0])
	assert.Equal(t, "0x"+strings.Repeat("0", 64), slots[1])
}

func TestERC721ForTicketsBalances(t *testing.T) {
	caller := &fakeCaller{result: packOutputs(t, erc721ForTicketsABI, "getBalances", []*big.Int{big.NewInt(255)})}

	values, err := NewReader(caller).ERC721ForTicketsBalances(context.Background(), contractAddr, ownerAddr)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "0x"+strings.Repeat("0", 62)+"ff", values[0])
}

func TestERC1155BalanceOfBatch(t *testing.T) {
	caller := &fakeCaller{result: packOutputs(t, erc1155ABI, "balanceOfBatch", []*big.Int{big.NewInt(3), big.NewInt(0)})}

	balances, err := NewReader(caller).ERC1155BalanceOfBatch(context.Background(), contractAddr, ownerAddr,
		[]*big.Int{big.NewInt(1), big.NewInt(2)})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, int64(3), balances[0].Int64())
	assert.Equal(t, int64(0), balances[1].Int64())

	data, err := hexutil.Decode(caller.calls[0].Data)
	require.NoError(t, err)
	args, err := erc1155ABI.Methods["balanceOfBatch"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	accounts := args[0].([]common.Address)
	require.Len(t, accounts, 2)
	assert.Equal(t, common.HexToAddress(ownerAddr), accounts[1])
}

func TestERC1155BalanceOfBatch_LengthMismatch(t *testing.T) {
	caller := &fakeCaller{result: packOutputs(t, erc1155ABI, "balanceOfBatch", []*big.Int{big.NewInt(3)})}

	_, err := NewReader(caller).ERC1155BalanceOfBatch(context.Background(), contractAddr, ownerAddr,
		[]*big.Int{big.NewInt(1), big.NewInt(2)})
	require.Error(t, err)
	assert.Equal(t, failure.KindDecode, failure.KindOf(err))
}

func TestERC1155BalanceOfBatch_NoIDsSkipsCall(t *testing.T) {
	caller := &fakeCaller{}
	balances, err := NewReader(caller).ERC1155BalanceOfBatch(context.Background(), contractAddr, ownerAddr, nil)
	require.NoError(t, err)
	assert.Empty(t, balances)
	assert.Empty(t, caller.calls)
}

func TestTokenURI(t *testing.T) {
	caller := &fakeCaller{result: packOutputs(t, erc721ABI, "tokenURI", "ipfs://cid/1.json")}
	uri, err := NewReader(caller).ERC721TokenURI(context.Background(), contractAddr, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://cid/1.json", uri)
}

func TestInvoke_ErrorKinds(t *testing.T) {
	t.Run("garbage return is decode failure", func(t *testing.T) {
		caller := &fakeCaller{result: []byte{0x01, 0x02}}
		_, err := NewReader(caller).ERC1155URI(context.Background(), contractAddr, big.NewInt(1))
		require.Error(t, err)
		assert.Equal(t, failure.KindDecode, failure.KindOf(err))
	})
	t.Run("empty return is not found", func(t *testing.T) {
		caller := &fakeCaller{result: []byte{}}
		_, err := NewReader(caller).Name(context.Background(), contractAddr)
		require.Error(t, err)
		assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
	})
	t.Run("call error keeps its kind", func(t *testing.T) {
		caller := &fakeCaller{err: failure.Network(errors.New("boom"))}
		_, err := NewReader(caller).ERC20Balance(context.Background(), contractAddr, ownerAddr)
		require.Error(t, err)
		assert.Equal(t, failure.KindNetwork, failure.KindOf(err))
	})
}
