package integrity

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zaqqye/exam_guard/internal/models"
)

// Store persists integrity counters in integrity_records.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Increment adds one to the event's counter for (examID, userID), creating the
// record on first sight, and sets last_event. It is a single upsert statement.
func (s *Store) Increment(ctx context.Context, examID, userID string, ev EventType) (*models.IntegrityRecord, error) {
	if !ev.Recordable() {
		return nil, errors.Wrapf(ErrNotRecordable, "%q", ev)
	}
	col := ev.Column()
	now := time.Now().UTC()

	rec := models.IntegrityRecord{
		ExamID:              examID,
		UserID:              userID,
		ScreenConfiguration: "Unknown",
		LastEvent:           ev.String(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	setCounter(&rec, ev, 1)

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "exam_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			col:          gorm.Expr("integrity_records." + col + " + 1"),
			"last_event": ev.String(),
			"updated_at": now,
		}),
	}).Create(&rec).Error
	if err != nil {
		return nil, errors.Wrap(err, "upsert integrity record")
	}
	return s.Get(ctx, examID, userID)
}

// Get returns the record for (examID, userID); gorm.ErrRecordNotFound when absent.
func (s *Store) Get(ctx context.Context, examID, userID string) (*models.IntegrityRecord, error) {
	var rec models.IntegrityRecord
	if err := s.DB.WithContext(ctx).Where("exam_id = ? AND user_id = ?", examID, userID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ForExam lists every record of an exam, most recently updated first.
func (s *Store) ForExam(ctx context.Context, examID string) ([]models.IntegrityRecord, error) {
	var recs []models.IntegrityRecord
	err := s.DB.WithContext(ctx).Where("exam_id = ?", examID).Order("updated_at DESC").Find(&recs).Error
	return recs, errors.Wrap(err, "list integrity records")
}

func setCounter(rec *models.IntegrityRecord, ev EventType, n int) {
	switch ev {
	case TabChanges:
		rec.TabChanges = n
	case MouseOuts:
		rec.MouseOuts = n
	case FullscreenExits:
		rec.FullscreenExits = n
	case CopyAttempts:
		rec.CopyAttempts = n
	case PasteAttempts:
		rec.PasteAttempts = n
	case FocusChanges:
		rec.FocusChanges = n
	case PageRefresh:
	}
}
