package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/chain/evm/contract"
	"github.com/emperorhan/wallet-inventory/internal/chain/evm/rpc"
	"github.com/emperorhan/wallet-inventory/internal/domain/event"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
	"github.com/emperorhan/wallet-inventory/internal/store"
	"github.com/emperorhan/wallet-inventory/internal/tracing"
	"golang.org/x/sync/errgroup"
)

// LogClient is the chain access the scanner needs.
type LogClient interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, filter rpc.LogFilter) ([]*rpc.Log, error)
}

// Scanner incrementally replays ERC-1155 transfer logs of one chain into
// per-wallet scan cursors.
type Scanner struct {
	chain   model.Chain
	client  LogClient
	cursors store.CursorStore
	logger  *slog.Logger
	nowFn   func() time.Time
}

func New(chain model.Chain, client LogClient, cursors store.CursorStore, logger *slog.Logger) *Scanner {
	return &Scanner{
		chain:   chain,
		client:  client,
		cursors: cursors,
		logger:  logger.With("component", "scanner", "chain", chain.String()),
		nowFn:   time.Now,
	}
}

// Window computes the inclusive block range of the next scan. maxRange = 0
// means unbounded. ok is false when there is nothing new to scan.
func Window(lastScanned, latest, maxRange uint64) (from, to uint64, ok bool) {
	from = lastScanned + 1
	to = latest
	if maxRange > 0 && lastScanned+maxRange < to {
		to = lastScanned + maxRange
	}
	return from, to, from <= to
}

// Scan advances the wallet's cursor over every ERC-1155 transfer observed
// since its last scanned block. If any log query fails the scan fails and
// the stored cursor is left untouched.
func (s *Scanner) Scan(ctx context.Context, wallet string) (cursor model.ScanCursor, err error) {
	wallet = model.NormalizeAddress(wallet)
	chainLabel := s.chain.String()
	start := time.Now()

	ctx, span := tracing.Start(ctx, "scanner", "scanner.Scan", wallet, s.chain.ID)
	defer func() {
		tracing.End(span, err)
		metrics.ScanRunsTotal.WithLabelValues(chainLabel).Inc()
		metrics.ScanLatency.WithLabelValues(chainLabel).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ScanErrors.WithLabelValues(chainLabel).Inc()
		}
	}()

	current, err := s.loadCursor(ctx, wallet)
	if err != nil {
		return model.ScanCursor{}, err
	}

	latest, err := s.client.GetBlockNumber(ctx)
	if err != nil {
		return model.ScanCursor{}, fmt.Errorf("latest block: %w", err)
	}

	from, to, ok := Window(current.LastScannedBlock, latest, s.chain.MaxBlockRange)
	if !ok {
		return current, nil
	}

	records, err := s.fetchTransfers(ctx, wallet, from, to)
	if err != nil {
		s.logger.Warn("transfer scan failed", "wallet", wallet, "from", from, "to", to, "error", err)
		return model.ScanCursor{}, err
	}

	next := current.Clone()
	next.CumulativeBalances = model.MergeDeltas(current.CumulativeBalances, Deltas(records))
	next.LastScannedBlock = to
	next.UpdatedAt = s.nowFn()

	metrics.ScanEventsApplied.WithLabelValues(chainLabel).Add(float64(len(records)))
	metrics.ScanLastBlock.WithLabelValues(chainLabel).Set(float64(to))

	if err := s.cursors.Save(ctx, next); err != nil {
		metrics.CursorPersistFailures.WithLabelValues(chainLabel).Inc()
		s.logger.Warn("cursor persist failed, next scan will repeat this window",
			"wallet", wallet, "last_scanned_block", to, "error", failure.Persistence(err))
	}

	s.logger.Debug("scan complete", "wallet", wallet, "from", from, "to", to, "events", len(records))
	return next, nil
}

func (s *Scanner) loadCursor(ctx context.Context, wallet string) (model.ScanCursor, error) {
	stored, err := s.cursors.Load(ctx, wallet, s.chain.ID)
	if err != nil {
		return model.ScanCursor{}, failure.Persistence(fmt.Errorf("load cursor: %w", err))
	}
	if stored == nil {
		return model.NewScanCursor(wallet, s.chain.ID), nil
	}
	return stored.Clone(), nil
}

// Deltas sorts records by chain position and sums their signed values per
// contract and decimal token-id.
func Deltas(records []event.TransferRecord) map[string]map[string]*big.Int {
	sorted := append([]event.TransferRecord(nil), records...)
	event.SortTransfers(sorted)

	delta := make(map[string]map[string]*big.Int)
	for _, r := range sorted {
		byID, ok := delta[r.Contract]
		if !ok {
			byID = make(map[string]*big.Int)
			delta[r.Contract] = byID
		}
		key := r.TokenID.String()
		acc, ok := byID[key]
		if !ok {
			acc = new(big.Int)
			byID[key] = acc
		}
		acc.Add(acc, r.SignedValue())
	}
	return delta
}

type transferQuery struct {
	topic     string
	direction event.Direction
}

var transferQueries = [4]transferQuery{
	{topic: contract.TopicTransferSingle, direction: event.DirectionSend},
	{topic: contract.TopicTransferSingle, direction: event.DirectionReceive},
	{topic: contract.TopicTransferBatch, direction: event.DirectionSend},
	{topic: contract.TopicTransferBatch, direction: event.DirectionReceive},
}

// fetchTransfers runs the four {send, receive} x {single, batch} queries in
// parallel and returns the flattened records in chain order.
func (s *Scanner) fetchTransfers(ctx context.Context, wallet string, from, to uint64) ([]event.TransferRecord, error) {
	walletTopic := contract.AddressTopic(wallet)
	var results [len(transferQueries)][]event.TransferRecord

	g, gCtx := errgroup.WithContext(ctx)
	for i, q := range transferQueries {
		g.Go(func() error {
			filter := rpc.LogFilter{
				FromBlock: rpc.FormatBlock(from),
				ToBlock:   rpc.FormatBlock(to),
				Topics:    erc1155Topics(q, walletTopic),
			}
			logs, err := s.client.GetLogs(gCtx, filter)
			if err != nil {
				return fmt.Errorf("%s %s logs: %w", q.direction, topicName(q.topic), err)
			}
			results[i] = s.decodeLogs(logs, q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []event.TransferRecord
	for _, r := range results {
		merged = append(merged, r...)
	}
	event.SortTransfers(merged)
	return merged, nil
}

// erc1155Topics filters TransferSingle/TransferBatch(operator, from, to) on
// the wallet's side.
func erc1155Topics(q transferQuery, walletTopic string) []interface{} {
	if q.direction == event.DirectionSend {
		return []interface{}{q.topic, nil, walletTopic}
	}
	return []interface{}{q.topic, nil, nil, walletTopic}
}

// decodeLogs skips logs that do not decode; a malformed event emitted by one
// contract must not stall the cursor for every other contract.
func (s *Scanner) decodeLogs(logs []*rpc.Log, q transferQuery) []event.TransferRecord {
	out := make([]event.TransferRecord, 0, len(logs))
	for _, lg := range logs {
		if lg == nil || lg.Removed {
			continue
		}
		records, err := decodeTransferLog(lg, q)
		if err != nil {
			s.logger.Warn("skipping undecodable transfer log",
				"contract", lg.Address, "tx_hash", lg.TransactionHash, "error", err)
			continue
		}
		out = append(out, records...)
	}
	return out
}

func decodeTransferLog(lg *rpc.Log, q transferQuery) ([]event.TransferRecord, error) {
	pos, err := logPosition(lg)
	if err != nil {
		return nil, err
	}
	base := event.TransferRecord{
		Contract:    model.NormalizeAddress(lg.Address),
		Direction:   q.direction,
		BlockNumber: pos.block,
		TxIndex:     pos.tx,
		LogIndex:    pos.log,
	}

	if q.topic == contract.TopicTransferSingle {
		id, value, err := contract.DecodeTransferSingle(lg.Data)
		if err != nil {
			return nil, err
		}
		base.TokenID, base.Value = id, value
		return []event.TransferRecord{base}, nil
	}

	ids, values, err := contract.DecodeTransferBatch(lg.Data)
	if err != nil {
		return nil, err
	}
	out := make([]event.TransferRecord, len(ids))
	for i := range ids {
		r := base
		r.TokenID, r.Value, r.BatchIndex = ids[i], values[i], i
		out[i] = r
	}
	return out, nil
}

type position struct {
	block, tx, log uint64
}

func logPosition(lg *rpc.Log) (position, error) {
	var (
		p   position
		err error
	)
	if p.block, err = rpc.ParseHexUint64(lg.BlockNumber); err != nil {
		return p, failure.Decode(fmt.Errorf("parse hex block number %q: %w", lg.BlockNumber, err))
	}
	if p.tx, err = rpc.ParseHexUint64(lg.TransactionIndex); err != nil {
		return p, failure.Decode(fmt.Errorf("parse hex transaction index %q: %w", lg.TransactionIndex, err))
	}
	if p.log, err = rpc.ParseHexUint64(lg.LogIndex); err != nil {
		return p, failure.Decode(fmt.Errorf("parse hex log index %q: %w", lg.LogIndex, err))
	}
	return p, nil
}

func topicName(topic string) string {
	switch strings.ToLower(topic) {
	case contract.TopicTransferSingle:
		return "TransferSingle"
	case contract.TopicTransferBatch:
		return "TransferBatch"
	case contract.TopicTransfer:
		return "Transfer"
	}
	return topic
}
