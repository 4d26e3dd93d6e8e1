package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/pkg/types"
)

var (
	journalSeqKey        = []byte("seq/put")
	journalEntryPrefix   = []byte("put/")
	journalAppliedPrefix = []byte("applied/")
)

// seqBandwidth is how many ids are leased from badger at a time.
const seqBandwidth = 128

// JournalConfig holds PUT journal configuration
type JournalConfig struct {
	Path             string
	InMemory         bool
	CompressionLevel int
}

// JournalEntry is one accepted PUT whose records may not all be in the
// file store yet.
type JournalEntry struct {
	ID      uint64 `json:"-"`
	UUID    string `json:"uuid"`
	Count   int    `json:"count"`
	Applied int    `json:"-"`
	Times   []byte `json:"times"`
	Values  []byte `json:"values"`
}

// Journal records PUT batches in badger before they are applied to the
// file store, so a crash part way through a batch can be finished on the
// next start. Entries are removed once every record has been stored.
//
// Progress is tracked per record. Replay resumes after the last record
// known to be applied, so at most one record is stored twice.
type Journal struct {
	db         *badger.DB
	seq        *badger.Sequence
	compressor *Compressor
	log        *slog.Logger
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets the logger used by the journal.
func WithJournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) {
		if l != nil {
			j.log = l
		}
	}
}

// OpenJournal opens or creates the journal described by cfg.
func OpenJournal(cfg *JournalConfig, opts ...JournalOption) (*Journal, error) {
	if cfg == nil {
		return nil, errors.New("journal config is required")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("journal path is required")
	}

	bopts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil // Badger logs through its own logger

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	seq, err := db.GetSequence(journalSeqKey, seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to lease journal sequence: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		seq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	j := &Journal{
		db:         db,
		seq:        seq,
		compressor: compressor,
		log:        logging.Component("journal"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Begin records a batch of records for uuid and returns its id.
func (j *Journal) Begin(uuid string, records []types.Record) (uint64, error) {
	id, err := j.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate journal id: %w", err)
	}

	times, values, err := j.compressor.CompressRecords(records)
	if err != nil {
		return 0, fmt.Errorf("failed to compress batch: %w", err)
	}

	data, err := json.Marshal(JournalEntry{
		UUID:   uuid,
		Count:  len(records),
		Times:  times,
		Values: values,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(journalEntryPrefix, id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write journal entry: %w", err)
	}
	return id, nil
}

// Advance marks the first applied records of batch id as stored.
func (j *Journal) Advance(id uint64, applied int) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(applied))

	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(journalAppliedPrefix, id), b[:])
	})
	if err != nil {
		return fmt.Errorf("failed to advance journal entry %d: %w", id, err)
	}
	return nil
}

// Commit removes batch id from the journal.
func (j *Journal) Commit(id uint64) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(journalKey(journalEntryPrefix, id)); err != nil {
			return err
		}
		return txn.Delete(journalKey(journalAppliedPrefix, id))
	})
	if err != nil {
		return fmt.Errorf("failed to commit journal entry %d: %w", id, err)
	}
	return nil
}

// Pending returns the batches not yet committed, oldest first.
func (j *Journal) Pending() ([]JournalEntry, error) {
	var entries []JournalEntry

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(journalEntryPrefix); it.ValidForPrefix(journalEntryPrefix); it.Next() {
			item := it.Item()

			var entry JournalEntry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("failed to decode journal entry: %w", err)
			}
			entry.ID = binary.BigEndian.Uint64(item.Key()[len(journalEntryPrefix):])

			applied, err := txn.Get(journalKey(journalAppliedPrefix, entry.ID))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				err = applied.Value(func(val []byte) error {
					if len(val) != 8 {
						return fmt.Errorf("journal entry %d: bad progress marker", entry.ID)
					}
					entry.Applied = int(binary.BigEndian.Uint64(val))
					return nil
				})
				if err != nil {
					return err
				}
			}

			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Records decodes the records of a pending batch.
func (j *Journal) Records(entry JournalEntry) ([]types.Record, error) {
	return j.compressor.DecompressRecords(entry.Times, entry.Values, entry.Count)
}

// Replay applies the unapplied records of every pending batch and commits
// each batch once it is complete. It returns the number of records applied.
func (j *Journal) Replay(apply func(uuid string, rec types.Record) error) (int, error) {
	entries, err := j.Pending()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, entry := range entries {
		records, err := j.Records(entry)
		if err != nil {
			return replayed, fmt.Errorf("journal entry %d: %w", entry.ID, err)
		}

		for i := entry.Applied; i < len(records); i++ {
			if err := apply(entry.UUID, records[i]); err != nil {
				return replayed, fmt.Errorf("journal entry %d: %w", entry.ID, err)
			}
			replayed++
		}

		if err := j.Commit(entry.ID); err != nil {
			return replayed, err
		}
		j.log.Info("replayed journal entry",
			"id", entry.ID,
			"uuid", entry.UUID,
			"records", len(records)-entry.Applied)
	}
	return replayed, nil
}

// Close releases the sequence lease and closes badger.
func (j *Journal) Close() error {
	j.compressor.Close()
	if err := j.seq.Release(); err != nil {
		j.db.Close()
		return fmt.Errorf("failed to release journal sequence: %w", err)
	}
	return j.db.Close()
}

func journalKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}
