// Package storage persists confirmed board positions in a bounded
// on-disk journal.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// PositionBucket holds journal entries keyed by ring slot.
	PositionBucket = "positions"

	// MetaBucket holds bookkeeping, currently just the sequence counter.
	MetaBucket = "meta"

	// SeqKey tracks how many entries were ever appended.
	SeqKey = "seq"
)

// Entry is one confirmed position. MoveUCI and MoveSAN are empty for
// fresh starts, where no preceding move was observed.
type Entry struct {
	FEN        string `json:"fen"`
	MoveUCI    string `json:"move_uci,omitempty"`
	MoveSAN    string `json:"move_san,omitempty"`
	FreshStart bool   `json:"fresh_start,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Journal is a ring of recently confirmed positions backed by bbolt.
// Once full, each append overwrites the oldest entry.
type Journal struct {
	db         *bbolt.DB
	dbPath     string
	maxEntries int
	seq        uint64
	isClosed   bool
}

// NewJournal opens or creates the journal database.
func NewJournal(dbPath string, maxEntries int) (*Journal, error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("invalid journal capacity: %d", maxEntries)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(PositionBucket)); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MetaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:         db,
		dbPath:     dbPath,
		maxEntries: maxEntries,
	}

	seq, err := j.loadSequence()
	if err != nil {
		db.Close()
		return nil, err
	}
	j.seq = seq

	return j, nil
}

// Append records a confirmed position.
func (j *Journal) Append(e Entry) error {
	if j.isClosed {
		return fmt.Errorf("journal is closed")
	}
	if e.FEN == "" {
		return fmt.Errorf("entry has no FEN")
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(PositionBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		key := j.seq % uint64(j.maxEntries)
		keyBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(keyBytes, key)
		if err := b.Put(keyBytes, data); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}

		j.seq++
		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, j.seq)
		return meta.Put([]byte(SeqKey), seqBytes)
	})
}

// Recent returns up to n entries, newest first. Corrupt slots are
// skipped rather than failing the whole read.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if j.isClosed {
		return nil, fmt.Errorf("journal is closed")
	}
	held := j.Held()
	if n > held {
		n = held
	}
	if n < 1 {
		return nil, nil
	}

	entries := make([]Entry, 0, n)
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(PositionBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		for i := 0; i < n; i++ {
			seq := j.seq - 1 - uint64(i)
			keyBytes := make([]byte, 8)
			binary.BigEndian.PutUint64(keyBytes, seq%uint64(j.maxEntries))

			data := b.Get(keyBytes)
			if data == nil {
				continue
			}
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Latest returns the newest entry if one exists.
func (j *Journal) Latest() (Entry, bool, error) {
	entries, err := j.Recent(1)
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[0], true, nil
}

// Sequence reports how many entries were ever appended.
func (j *Journal) Sequence() uint64 {
	return j.seq
}

// Held reports how many entries the ring currently retains.
func (j *Journal) Held() int {
	if j.seq > uint64(j.maxEntries) {
		return j.maxEntries
	}
	return int(j.seq)
}

// Clear removes all entries.
func (j *Journal) Clear() error {
	if j.isClosed {
		return fmt.Errorf("journal is closed")
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(PositionBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(PositionBucket)); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}

		j.seq = 0
		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, 0)
		return meta.Put([]byte(SeqKey), seqBytes)
	})
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.isClosed {
		return nil
	}
	j.isClosed = true
	return j.db.Close()
}

// Stats describe the journal state.
type Stats struct {
	TotalRecorded uint64
	Held          int
	MaxEntries    int
	DBPath        string
	IsWrapped     bool
}

// GetStats returns current statistics.
func (j *Journal) GetStats() Stats {
	return Stats{
		TotalRecorded: j.seq,
		Held:          j.Held(),
		MaxEntries:    j.maxEntries,
		DBPath:        j.dbPath,
		IsWrapped:     j.seq > uint64(j.maxEntries),
	}
}

func (j *Journal) loadSequence() (uint64, error) {
	var seq uint64
	err := j.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		seqBytes := meta.Get([]byte(SeqKey))
		if seqBytes == nil {
			seq = 0
			return nil
		}
		seq = binary.BigEndian.Uint64(seqBytes)
		return nil
	})
	return seq, err
}
