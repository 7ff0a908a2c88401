// Package store persists the reload journal in an embedded bbolt
// database so outcomes survive daemon restarts. Writes are
// transactional: a crash mid-append cannot corrupt committed entries.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketJournal = []byte("journal")

// Entry is one recorded reload outcome.
type Entry struct {
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Success   bool      `json:"success"`
	Trigger   []string  `json:"trigger,omitempty"`
	Loaded    []string  `json:"loaded,omitempty"`
	Unloaded  []string  `json:"unloaded,omitempty"`
	Failed    string    `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
	ElapsedMs int64     `json:"elapsedMs"`
}

// Journal is an append-only log of reload outcomes.
type Journal struct {
	db *bolt.DB
}

// Open opens (or creates) the journal database at path, creating parent
// directories as needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJournal)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append assigns the entry its sequence number and persists it.
func (j *Journal) Append(e *Entry) error {
	if e == nil {
		return fmt.Errorf("nil entry")
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		e.Seq = seq

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}

		return b.Put(seqKey(seq), data)
	})
}

// Recent returns the newest n entries in chronological order. When n
// is zero or negative, every entry is returned.
func (j *Journal) Recent(n int) ([]*Entry, error) {
	var entries []*Entry

	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(entries) == n {
				break
			}

			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling entry %d: %w", binary.BigEndian.Uint64(k), err)
			}

			entries = append(entries, &e)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cursor walked newest-first; flip to chronological.
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}

	return entries, nil
}

// Last returns the newest entry, or nil when the journal is empty.
func (j *Journal) Last() (*Entry, error) {
	entries, err := j.Recent(1)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, nil
	}

	return entries[0], nil
}

// seqKey encodes a sequence number as a big-endian key so cursor order
// matches append order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}
