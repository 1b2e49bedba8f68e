// Package reapjournal persists a durable log of cache reap/destroy events —
// how many slabs were freed, how many bytes were reclaimed, when, and for
// which cache — to a local BadgerDB instance.
//
// This mirrors examples/disk_eject/main.go's use of Badger as an L2 store:
// there it persisted evicted cache entries, here it persists allocator
// housekeeping events for later inspection (cmd/slabctl reads it back).
// A Journal is entirely optional; pkg/kmem.Cache only touches one when
// constructed with WithReapJournal, matching the teacher's "nil registry
// means metrics are off" opt-in pattern.
package reapjournal

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Record is one reap or destroy event.
type Record struct {
	CacheName  string    `json:"cache_name"`
	SlabsFreed int       `json:"slabs_freed"`
	BytesFreed int64     `json:"bytes_freed"`
	At         time.Time `json:"at"`
}

// Journal wraps a *badger.DB opened at a caller-supplied directory.
type Journal struct {
	db *badger.DB
}

// Open opens (or creates) a Badger-backed journal at dir. Badger's own
// logger is disabled; callers that want journal diagnostics should watch
// Append's returned error instead.
func Open(dir string) (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("reapjournal: open %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying Badger instance.
func (j *Journal) Close() error {
	return j.db.Close()
}

// key encodes r's timestamp and cache name into a lexically increasing key
// so Recent's reverse iteration yields newest-first without a secondary
// index.
func key(r Record) []byte {
	return []byte(fmt.Sprintf("reap:%020d:%s", r.At.UnixNano(), r.CacheName))
}

// Append records one reap/destroy event.
func (j *Journal) Append(r Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("reapjournal: marshal record: %w", err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(r), val)
	})
}

// Recent returns up to n most-recently-appended records, newest first.
func (j *Journal) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration over a forward-keyspace seeks from 0xff...;
		// badger's own convention (see its reverse-iteration examples) is to
		// seek without a prefix when scanning the whole keyspace backwards.
		for it.Rewind(); it.Valid() && len(out) < n; it.Next() {
			item := it.Item()
			var rec Record
			if err := item.Value(func(b []byte) error {
				return json.Unmarshal(b, &rec)
			}); err != nil {
				return fmt.Errorf("reapjournal: unmarshal record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
