package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/zaqqye/exam_guard/internal/models"
	"github.com/zaqqye/exam_guard/internal/utils"
)

// Key is where a frame taken at the given time is stored.
func Key(userID, examID string, at time.Time) string {
	return fmt.Sprintf("integrity/%s/%s/captured-%d.jpg", userID, examID, at.UnixMilli())
}

// Service stores frame bytes in an ObjectStore and indexes them in the
// capture_records table.
type Service struct {
	DB      *gorm.DB
	Objects ObjectStore
	Now     func() time.Time
}

func (s *Service) Save(ctx context.Context, examID, userID, contentType string, data []byte) (*models.CaptureRecord, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	at := now().UTC()
	key := Key(userID, examID, at)
	if err := s.Objects.Put(ctx, key, data); err != nil {
		return nil, errors.Wrap(err, "store capture")
	}
	rec := &models.CaptureRecord{
		ExamID:      examID,
		UserID:      userID,
		ObjectKey:   key,
		Size:        int64(len(data)),
		Checksum:    utils.SHA256HexBytes(data),
		ContentType: contentType,
		CreatedAt:   at,
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, errors.Wrap(err, "index capture")
	}
	return rec, nil
}

// ForAttempt lists capture records of one student in one exam, oldest first.
func (s *Service) ForAttempt(ctx context.Context, examID, userID string) ([]models.CaptureRecord, error) {
	var recs []models.CaptureRecord
	err := s.DB.WithContext(ctx).
		Where("exam_id = ? AND user_id = ?", examID, userID).
		Order("created_at ASC").
		Find(&recs).Error
	return recs, errors.Wrap(err, "list captures")
}

// Open returns one indexed frame and its bytes. A missing record or object
// yields ErrNotFound.
func (s *Service) Open(ctx context.Context, id uint) (*models.CaptureRecord, []byte, error) {
	var rec models.CaptureRecord
	err := s.DB.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, errors.Wrapf(ErrNotFound, "capture %d", id)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "find capture")
	}
	data, err := s.Objects.Get(ctx, rec.ObjectKey)
	if err != nil {
		return nil, nil, err
	}
	return &rec, data, nil
}
