package scanner

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/emperorhan/wallet-inventory/internal/chain/evm/contract"
	"github.com/emperorhan/wallet-inventory/internal/chain/evm/rpc"
	"github.com/emperorhan/wallet-inventory/internal/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func erc721Log(send bool, block, logIndex uint64, id int64) *rpc.Log {
	from, to := contract.AddressTopic(otherParty), contract.AddressTopic(testWallet)
	if send {
		from, to = to, from
	}
	return &rpc.Log{
		Address:          testContract,
		Topics:           []string{contract.TopicTransfer, from, to, common.BigToHash(big.NewInt(id)).Hex()},
		Data:             "0x",
		BlockNumber:      rpc.FormatBlock(block),
		TransactionIndex: "0x0",
		LogIndex:         rpc.FormatBlock(logIndex),
	}
}

func TestOwnedERC721TokenIDs_LastMovementWins(t *testing.T) {
	client := &fakeLogClient{latest: 100}
	client.logsFn = func(filter rpc.LogFilter) ([]*rpc.Log, error) {
		assert.Equal(t, testContract, filter.Address)
		if kindOf(filter).send {
			return []*rpc.Log{erc721Log(true, 8, 0, 1)}, nil
		}
		erc20 := erc721Log(false, 7, 0, 99)
		erc20.Topics = erc20.Topics[:3]
		return []*rpc.Log{erc721Log(false, 5, 0, 1), erc721Log(false, 6, 0, 2), erc721Log(false, 9, 0, 10), erc20}, nil
	}

	s := New(testChain(0), client, memory.NewCursorStore(), slog.Default())
	ids, err := s.OwnedERC721TokenIDs(context.Background(), testWallet, testContract)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "10"}, ids)
}

func TestOwnedERC721TokenIDs_BoundedChainPaginates(t *testing.T) {
	client := &fakeLogClient{latest: 9999}
	s := New(testChain(4000), client, memory.NewCursorStore(), slog.Default())

	ids, err := s.OwnedERC721TokenIDs(context.Background(), testWallet, testContract)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, client.filters, 6, "three windows, two directions each")
}

func TestOwnedERC721TokenIDs_QueryFailure(t *testing.T) {
	client := &fakeLogClient{latest: 10}
	client.logsFn = func(rpc.LogFilter) ([]*rpc.Log, error) { return nil, errors.New("boom") }

	_, err := New(testChain(0), client, memory.NewCursorStore(), slog.Default()).
		OwnedERC721TokenIDs(context.Background(), testWallet, testContract)
	assert.Error(t, err)
}

func TestDiscoveryWindows(t *testing.T) {
	assert.Equal(t, []blockWindow{{0, 3999}, {4000, 7999}, {8000, 9999}}, discoveryWindows(0, 9999, 4000))
	assert.Equal(t, []blockWindow{{10, 20}}, discoveryWindows(10, 20, 0))
	assert.Empty(t, discoveryWindows(30, 20, 4000))
}
