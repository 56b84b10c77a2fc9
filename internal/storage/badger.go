package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "triggerd/pkg/logx"

	"github.com/dgraph-io/badger/v4"
)

var (
	badgerAuditPrefix = []byte("audit/")
	badgerSeqKey      = []byte("seq/audit")
)

// badgerStore keys entries as audit/<big-endian seq> so key order is
// insertion order and RecentAudit is a reverse prefix scan.
type badgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log logx.Logger
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for badger driver")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // zerolog owns logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	seq, err := db.GetSequence(badgerSeqKey, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &badgerStore{db: db, seq: seq, log: log}, nil
}

func (s *badgerStore) auditKey(n uint64) []byte {
	k := make([]byte, len(badgerAuditPrefix)+8)
	copy(k, badgerAuditPrefix)
	binary.BigEndian.PutUint64(k[len(badgerAuditPrefix):], n)
	return k
}

func (s *badgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		s.log.Warn("badger sequence release failed", logx.Err(err))
	}
	return s.db.Close()
}

func (s *badgerStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	n, err := s.seq.Next()
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.auditKey(n), data)
	})
}

func (s *badgerStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	limit = clampLimit(limit)

	var out []AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerAuditPrefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek.
		seek := append(append([]byte(nil), badgerAuditPrefix...), 0xff)
		for it.Seek(seek); it.Valid() && len(out) < limit; it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := it.Item().Value(func(val []byte) error {
				var e AuditEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
