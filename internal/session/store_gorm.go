package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/zaqqye/exam_guard/internal/models"
)

// GormStore keeps sessions in the login_sessions table.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Create(ctx context.Context, sess *models.LoginSession) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(sess).Error, "create session")
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.LoginSession, error) {
	var sess models.LoginSession
	err := s.db.WithContext(ctx).Where("session_id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	if !sess.Live(s.now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *GormStore) Destroy(ctx context.Context, id string) error {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Model(&models.LoginSession{}).
		Where("session_id = ? AND destroyed_at IS NULL", id).
		Update("destroyed_at", &now).Error
	return errors.Wrap(err, "destroy session")
}

func (s *GormStore) DestroyForUser(ctx context.Context, userID string) (int, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.LoginSession{}).
		Where("user_id_ref = ? AND destroyed_at IS NULL AND expires_at > ?", userID, now).
		Update("destroyed_at", &now)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "destroy user sessions")
	}
	return int(res.RowsAffected), nil
}
