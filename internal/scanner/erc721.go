package scanner

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/emperorhan/wallet-inventory/internal/chain/evm/contract"
	"github.com/emperorhan/wallet-inventory/internal/chain/evm/rpc"
	"github.com/emperorhan/wallet-inventory/internal/domain/event"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/tracing"
	"golang.org/x/sync/errgroup"
)

// OwnedERC721TokenIDs lists the token-ids of contractAddr the wallet holds,
// derived from owner-indexed Transfer logs: an id is owned iff its last
// observed movement was into the wallet. Ids are returned in ascending order.
func (s *Scanner) OwnedERC721TokenIDs(ctx context.Context, wallet, contractAddr string) (ids []string, err error) {
	wallet = model.NormalizeAddress(wallet)
	contractAddr = model.NormalizeAddress(contractAddr)

	ctx, span := tracing.Start(ctx, "scanner", "scanner.OwnedERC721TokenIDs", wallet, s.chain.ID)
	defer func() { tracing.End(span, err) }()

	latest, err := s.client.GetBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}

	var records []event.TransferRecord
	for _, w := range discoveryWindows(s.chain.DiscoveryStartBlock, latest, s.chain.MaxBlockRange) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		windowRecords, err := s.fetchERC721Transfers(ctx, wallet, contractAddr, w.from, w.to)
		if err != nil {
			return nil, err
		}
		records = append(records, windowRecords...)
	}
	return replayOwnership(records), nil
}

type blockWindow struct {
	from, to uint64
}

func discoveryWindows(start, latest, maxRange uint64) []blockWindow {
	if start > latest {
		return nil
	}
	if maxRange == 0 {
		return []blockWindow{{from: start, to: latest}}
	}
	var windows []blockWindow
	for from := start; from <= latest; {
		to := from + maxRange - 1
		if to > latest || to < from {
			to = latest
		}
		windows = append(windows, blockWindow{from: from, to: to})
		if to == latest {
			break
		}
		from = to + 1
	}
	return windows
}

func (s *Scanner) fetchERC721Transfers(ctx context.Context, wallet, contractAddr string, from, to uint64) ([]event.TransferRecord, error) {
	walletTopic := contract.AddressTopic(wallet)
	directions := [2]event.Direction{event.DirectionSend, event.DirectionReceive}
	var results [2][]event.TransferRecord

	g, gCtx := errgroup.WithContext(ctx)
	for i, dir := range directions {
		g.Go(func() error {
			topics := []interface{}{contract.TopicTransfer, walletTopic}
			if dir == event.DirectionReceive {
				topics = []interface{}{contract.TopicTransfer, nil, walletTopic}
			}
			logs, err := s.client.GetLogs(gCtx, rpc.LogFilter{
				FromBlock: rpc.FormatBlock(from),
				ToBlock:   rpc.FormatBlock(to),
				Address:   contractAddr,
				Topics:    topics,
			})
			if err != nil {
				return fmt.Errorf("%s Transfer logs: %w", dir, err)
			}
			results[i] = s.decodeERC721Logs(logs, dir)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(results[0], results[1]...), nil
}

// decodeERC721Logs keeps only logs with an indexed token id; ERC-20
// Transfer logs share the signature but carry three topics.
func (s *Scanner) decodeERC721Logs(logs []*rpc.Log, dir event.Direction) []event.TransferRecord {
	out := make([]event.TransferRecord, 0, len(logs))
	for _, lg := range logs {
		if lg == nil || lg.Removed || len(lg.Topics) != 4 {
			continue
		}
		pos, err := logPosition(lg)
		if err != nil {
			s.logger.Warn("skipping undecodable transfer log", "contract", lg.Address, "error", err)
			continue
		}
		id, err := contract.TopicUint256(lg.Topics[3])
		if err != nil {
			s.logger.Warn("skipping undecodable transfer log", "contract", lg.Address, "error", err)
			continue
		}
		out = append(out, event.TransferRecord{
			Contract:    model.NormalizeAddress(lg.Address),
			TokenID:     id,
			Value:       big.NewInt(1),
			Direction:   dir,
			BlockNumber: pos.block,
			TxIndex:     pos.tx,
			LogIndex:    pos.log,
		})
	}
	return out
}

func replayOwnership(records []event.TransferRecord) []string {
	sorted := append([]event.TransferRecord(nil), records...)
	event.SortTransfers(sorted)

	owned := make(map[string]*big.Int)
	for _, r := range sorted {
		key := r.TokenID.String()
		if r.Direction == event.DirectionReceive {
			owned[key] = r.TokenID
		} else {
			delete(owned, key)
		}
	}

	ids := make([]*big.Int, 0, len(owned))
	for _, id := range owned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
