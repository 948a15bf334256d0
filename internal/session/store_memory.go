package session

import (
	"context"
	"sync"
	"time"

	"github.com/zaqqye/exam_guard/internal/models"
)

// MemoryStore is a thread-safe in-memory Store.
// Sessions are lost on server restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.LoginSession
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]models.LoginSession),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, sess *models.LoginSession) error {
	s.mu.Lock()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	s.data[sess.SessionID] = *sess
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.LoginSession, error) {
	s.mu.RLock()
	sess, ok := s.data[id]
	s.mu.RUnlock()
	if !ok || !sess.Live(s.now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	if sess, ok := s.data[id]; ok && sess.DestroyedAt == nil {
		now := s.now().UTC()
		sess.DestroyedAt = &now
		s.data[id] = sess
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DestroyForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	n := 0
	for id, sess := range s.data {
		if sess.UserIDRef == userID && sess.Live(now) {
			sess.DestroyedAt = &now
			s.data[id] = sess
			n++
		}
	}
	return n, nil
}
