package monitor

import (
	"sync"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// Durable storage slots. Every slot is cleared when an attempt ends.
const (
	SlotStarted       = "examStarted"
	SlotEndTime       = "examEndTime"
	SlotMCQAnswers    = "examMcqAnswers"
	SlotCodingAnswers = "examCodingAnswers"
	SlotRefreshCount  = "examRefreshCount"
	SlotSubmitting    = "examSubmitting"
	SlotViolations    = "examViolations"
)

var AllSlots = []string{
	SlotStarted,
	SlotEndTime,
	SlotMCQAnswers,
	SlotCodingAnswers,
	SlotRefreshCount,
	SlotSubmitting,
	SlotViolations,
}

// Storage is string key/value storage that survives a page load. Get returns
// "" for absent keys.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key], nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Delete(keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.data, k)
	}
	s.mu.Unlock()
	return nil
}

// BoltStorage keeps slots in one bbolt bucket, so several exams can share a
// file under different scopes.
type BoltStorage struct {
	db     *bbolt.DB
	bucket []byte
}

var _ Storage = (*BoltStorage)(nil)

func NewBoltStorage(db *bbolt.DB, scope string) *BoltStorage {
	return &BoltStorage{db: db, bucket: []byte(scope)}
}

func (s *BoltStorage) Get(key string) (string, error) {
	var v string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(s.bucket); b != nil {
			v = string(b.Get([]byte(key)))
		}
		return nil
	})
	return v, errors.Wrap(err, "read slot")
}

func (s *BoltStorage) Set(key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
	return errors.Wrap(err, "write slot")
}

func (s *BoltStorage) Delete(keys ...string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "delete slots")
}
