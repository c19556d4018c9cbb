// Package outbox is a durable retry queue for recipient deliveries
// that failed temporarily during dispatch.
package outbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/phoebebright/newsletterd/internal/mail"
)

var (
	bucketEntries  = []byte("entries")
	bucketSchedule = []byte("schedule")
)

// Entry is one deferred recipient delivery.
type Entry struct {
	ID           string       `json:"id"`
	SubmissionID string       `json:"submission_id"`
	RecipientID  string       `json:"recipient_id"` // submission_recipients row to update
	Message      mail.Message `json:"message"`
	RetryCount   int          `json:"retry_count"`
	NextAttempt  time.Time    `json:"next_attempt"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Storage is the bbolt-backed outbox.
type Storage struct {
	db *bolt.DB
}

// NewStorage opens (creating if needed) the outbox database.
func NewStorage(path string) (*Storage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create outbox directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntries, bucketSchedule} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Put stores an entry and schedules it for its next attempt.
func (s *Storage) Put(e *Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if err := tx.Bucket(bucketEntries).Put([]byte(e.ID), data); err != nil {
			return fmt.Errorf("failed to store entry: %w", err)
		}
		if err := tx.Bucket(bucketSchedule).Put(scheduleKey(e.NextAttempt, e.ID), []byte(e.ID)); err != nil {
			return fmt.Errorf("failed to schedule entry: %w", err)
		}
		return nil
	})
}

// TakeDue removes and returns up to limit entries whose next attempt
// time has passed. Taken entries must be re-Put (to retry later) or
// dropped by the caller.
func (s *Storage) TakeDue(now time.Time, limit int) ([]*Entry, error) {
	var entries []*Entry

	err := s.db.Update(func(tx *bolt.Tx) error {
		schedule := tx.Bucket(bucketSchedule)
		store := tx.Bucket(bucketEntries)

		c := schedule.Cursor()
		var drop [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if scheduleTime(k).After(now) {
				break // schedule keys are time-ordered
			}
			data := store.Get(v)
			if data != nil {
				var e Entry
				if err := json.Unmarshal(data, &e); err != nil {
					return fmt.Errorf("failed to unmarshal entry: %w", err)
				}
				entries = append(entries, &e)
			}
			drop = append(drop, append([]byte(nil), k...))
			if limit > 0 && len(entries) >= limit {
				break
			}
		}

		for _, k := range drop {
			id := schedule.Get(k)
			if err := schedule.Delete(k); err != nil {
				return err
			}
			if id != nil {
				if err := store.Delete(id); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Len returns the number of queued entries.
func (s *Storage) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the outbox database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// scheduleKey builds a time-ordered key: big-endian unix nanos plus the
// entry ID for uniqueness.
func scheduleKey(t time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, id...)
}

func scheduleTime(key []byte) time.Time {
	if len(key) < 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[:8])))
}
