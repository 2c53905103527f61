// Package store persists per-second book snapshots and trade batches in an
// embedded key-ordered store. Keys sort chronologically per symbol so window
// queries are prefix scans.
package store

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// tradesKeyPrefix namespaces trade batch keys away from snapshot keys.
const tradesKeyPrefix = "trades:"

// Store wraps a single badger database holding both snapshot and trade
// keyspaces. Snapshot keys are "SYMBOL:unix_sec", trade batch keys are
// "trades:SYMBOL:unix_ms".
type Store struct {
	db        *badger.DB
	sizeLimit int64
	log       *slog.Logger
}

// Open initializes the store at dir. sizeLimit bounds the on-disk footprint;
// writes are refused once it is exceeded.
func Open(dir string, sizeLimit int64, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.Compression = options.ZSTD

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{
		db:        db,
		sizeLimit: sizeLimit,
		log:       log.With(slog.String("component", "store")),
	}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DiskSize returns the current on-disk footprint in bytes.
func (s *Store) DiskSize() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}

// OverLimit reports whether the store has exceeded its size ceiling.
func (s *Store) OverLimit() bool {
	return s.DiskSize() > s.sizeLimit
}

// snapshotKey is "SYMBOL:unix_sec".
func snapshotKey(symbol string, sec int64) []byte {
	return []byte(symbol + ":" + strconv.FormatInt(sec, 10))
}

// tradeKey is "trades:SYMBOL:unix_ms".
func tradeKey(symbol string, ms int64) []byte {
	return []byte(tradesKeyPrefix + symbol + ":" + strconv.FormatInt(ms, 10))
}

// PutSnapshot stores one per-second book snapshot. It returns
// domain.ErrStorageLimit when the store is over its size ceiling.
func (s *Store) PutSnapshot(symbol string, snap domain.BookSnapshot) error {
	if s.OverLimit() {
		return fmt.Errorf("store: put snapshot %s: disk size %d over limit %d: %w",
			symbol, s.DiskSize(), s.sizeLimit, domain.ErrStorageLimit)
	}

	value, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot %s: %w", symbol, err)
	}
	key := snapshotKey(domain.NormalizeSymbol(symbol), snap.Timestamp)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("store: put snapshot %s: %w", symbol, err)
	}
	return nil
}

// SnapshotsInWindow returns snapshots for symbol captured between startSec
// and endSec inclusive, in chronological order.
func (s *Store) SnapshotsInWindow(symbol string, startSec, endSec int64) ([]domain.BookSnapshot, error) {
	symbol = domain.NormalizeSymbol(symbol)
	prefix := []byte(symbol + ":")

	var snaps []domain.BookSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(snapshotKey(symbol, startSec)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			sec, ok := timestampFromKey(item.Key())
			if !ok {
				continue
			}
			if sec > endSec {
				break
			}
			if sec < startSec {
				continue
			}
			err := item.Value(func(v []byte) error {
				var snap domain.BookSnapshot
				if err := msgpack.Unmarshal(v, &snap); err != nil {
					return fmt.Errorf("decode snapshot at %d: %w: %v", sec, domain.ErrParse, err)
				}
				snaps = append(snaps, snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: snapshots %s [%d,%d]: %w", symbol, startSec, endSec, err)
	}
	return snaps, nil
}

// PutTradeBatch stores a batch of trades under the batch capture time in
// milliseconds. Empty batches are a no-op.
func (s *Store) PutTradeBatch(symbol string, batchMs int64, trades []domain.StoredTrade) error {
	if len(trades) == 0 {
		return nil
	}
	if s.OverLimit() {
		return fmt.Errorf("store: put trades %s: disk size %d over limit %d: %w",
			symbol, s.DiskSize(), s.sizeLimit, domain.ErrStorageLimit)
	}

	value, err := msgpack.Marshal(trades)
	if err != nil {
		return fmt.Errorf("store: encode trades %s: %w", symbol, err)
	}
	key := tradeKey(domain.NormalizeSymbol(symbol), batchMs)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("store: put trades %s: %w", symbol, err)
	}
	return nil
}

// TradesInWindow returns all trades for symbol whose batch timestamps fall
// between startMs and endMs inclusive, flattened in chronological order.
func (s *Store) TradesInWindow(symbol string, startMs, endMs int64) ([]domain.StoredTrade, error) {
	symbol = domain.NormalizeSymbol(symbol)
	prefix := []byte(tradesKeyPrefix + symbol + ":")

	var trades []domain.StoredTrade
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(tradeKey(symbol, startMs)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			ms, ok := timestampFromKey(item.Key())
			if !ok {
				continue
			}
			if ms > endMs {
				break
			}
			if ms < startMs {
				continue
			}
			err := item.Value(func(v []byte) error {
				var batch []domain.StoredTrade
				if err := msgpack.Unmarshal(v, &batch); err != nil {
					return fmt.Errorf("decode trade batch at %d: %w: %v", ms, domain.ErrParse, err)
				}
				trades = append(trades, batch...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: trades %s [%d,%d]: %w", symbol, startMs, endMs, err)
	}
	return trades, nil
}

// CleanupExpired deletes snapshot keys older than snapCutoffSec and trade
// batch keys older than tradeCutoffMs, returning the number of keys removed.
func (s *Store) CleanupExpired(snapCutoffSec, tradeCutoffMs int64) (int, error) {
	var expired [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, ok := timestampFromKey(key)
			if !ok {
				continue
			}
			cutoff := snapCutoffSec
			if strings.HasPrefix(string(key), tradesKeyPrefix) {
				cutoff = tradeCutoffMs
			}
			if ts < cutoff {
				expired = append(expired, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: cleanup scan: %w", err)
	}

	deleted := 0
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range expired {
		if err := wb.Delete(key); err != nil {
			return deleted, fmt.Errorf("store: cleanup delete: %w", err)
		}
		deleted++
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("store: cleanup flush: %w", err)
	}

	if deleted > 0 {
		s.log.Info("retention sweep complete", slog.Int("deleted_keys", deleted))
	}
	return deleted, nil
}

// DropOldest removes the oldest fraction of snapshot keys for every symbol.
// Used when the store hits its size ceiling and must shed history.
func (s *Store) DropOldest(fraction float64) (int, error) {
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("store: drop oldest: bad fraction %v: %w", fraction, domain.ErrInvalidRequest)
	}

	// Group by keyspace prefix ("SYMBOL" and "trades:SYMBOL" separately) so
	// each series sheds its own oldest entries.
	perSeries := make(map[string][][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			str := string(key)
			idx := strings.LastIndexByte(str, ':')
			if idx < 0 {
				continue
			}
			if _, ok := timestampFromKey(key); !ok {
				continue
			}
			perSeries[str[:idx]] = append(perSeries[str[:idx]], key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: drop oldest scan: %w", err)
	}

	deleted := 0
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, keys := range perSeries {
		// Keys iterate in byte order, oldest first within a symbol.
		n := int(float64(len(keys)) * fraction)
		for _, key := range keys[:n] {
			if err := wb.Delete(key); err != nil {
				return deleted, fmt.Errorf("store: drop oldest delete: %w", err)
			}
			deleted++
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("store: drop oldest flush: %w", err)
	}

	s.log.Warn("dropped oldest history to reclaim space",
		slog.Int("deleted_keys", deleted))
	return deleted, nil
}

// RunGC triggers badger value log garbage collection. Safe to call
// periodically; returns immediately when there is nothing to collect.
func (s *Store) RunGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

// timestampFromKey extracts the trailing numeric timestamp from a key of the
// form "SYMBOL:ts" or "trades:SYMBOL:ts".
func timestampFromKey(key []byte) (int64, bool) {
	str := string(key)
	idx := strings.LastIndexByte(str, ':')
	if idx < 0 || idx == len(str)-1 {
		return 0, false
	}
	ts, err := strconv.ParseInt(str[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// SnapCutoff returns the snapshot retention cutoff in unix seconds for a
// retention window expressed in days.
func SnapCutoff(now time.Time, retentionDays int) int64 {
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix()
}

// TradeCutoff returns the trade retention cutoff in unix milliseconds.
func TradeCutoff(now time.Time, retentionDays int) int64 {
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()
}
