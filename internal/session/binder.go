package session

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/zaqqye/exam_guard/internal/models"
)

// Reason explains why a session is not valid.
type Reason string

const (
	ReasonNotAuthenticated Reason = "not_authenticated"
	ReasonUserNotFound     Reason = "user_not_found"
	ReasonSessionMismatch  Reason = "session_mismatch"
)

var ErrUserNotFound = errors.New("user not found")

// Verdict is the answer to "may this session act as its user?".
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

func Valid() Verdict               { return Verdict{Valid: true} }
func Invalid(reason Reason) Verdict { return Verdict{Reason: reason} }

// Notifier is told when a student's earlier session has been superseded by a
// newer login.
type Notifier interface {
	SessionSuperseded(userID, oldSessionID string)
}

// Binder maintains users.current_session_id for student accounts.
type Binder struct {
	DB       *gorm.DB
	Store    Store
	Notifier Notifier
	Log      *slog.Logger
}

// Bind makes sid the authoritative session of a student. A different,
// previously bound session is destroyed first; if that fails nothing is
// overwritten and the error is returned. Non-students are left untouched.
func (b *Binder) Bind(ctx context.Context, user *models.User, sid string) error {
	if !user.IsStudent() {
		return nil
	}

	var current models.User
	if err := b.DB.WithContext(ctx).Select("id", "current_session_id").First(&current, user.ID).Error; err != nil {
		return errors.Wrap(err, "load session binding")
	}

	var superseded string
	if current.CurrentSessionID != nil && *current.CurrentSessionID != sid {
		superseded = *current.CurrentSessionID
		if err := b.Store.Destroy(ctx, superseded); err != nil {
			return errors.Wrap(err, "destroy superseded session")
		}
	}

	err := b.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("current_session_id", sid).Error
	if err != nil {
		return errors.Wrap(err, "store session binding")
	}
	user.CurrentSessionID = &sid

	if superseded != "" {
		b.logger().Warn("student session superseded by new login",
			"user_id", user.UserID, "old_session", superseded, "new_session", sid)
		if b.Notifier != nil {
			b.Notifier.SessionSuperseded(user.UserID, superseded)
		}
	}
	return nil
}

// Unbind clears the binding of a student if it still names sid, so a stale
// device logging out cannot unbind the device that replaced it.
func (b *Binder) Unbind(ctx context.Context, user *models.User, sid string) error {
	if !user.IsStudent() {
		return nil
	}
	err := b.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND current_session_id = ?", user.ID, sid).
		Update("current_session_id", nil).Error
	return errors.Wrap(err, "clear session binding")
}

// Release clears a student's binding unconditionally and destroys every
// session of the user. Used when staff force a student out.
func (b *Binder) Release(ctx context.Context, user *models.User) (int, error) {
	n, err := b.Store.DestroyForUser(ctx, user.UserID)
	if err != nil {
		return 0, err
	}
	err = b.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("current_session_id", nil).Error
	if err != nil {
		return n, errors.Wrap(err, "clear session binding")
	}
	user.CurrentSessionID = nil
	return n, nil
}

// LookupUser loads a user by public id; ErrUserNotFound when absent.
func (b *Binder) LookupUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := b.DB.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}
	return &user, nil
}

// Verify evaluates a request's session. live says whether the session record
// itself still exists. The returned user is nil unless it was found.
func (b *Binder) Verify(ctx context.Context, userID, sid string, live bool) (Verdict, *models.User, error) {
	if userID == "" || sid == "" {
		return Invalid(ReasonNotAuthenticated), nil, nil
	}
	user, err := b.LookupUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return Invalid(ReasonUserNotFound), nil, nil
	}
	if err != nil {
		return Verdict{}, nil, err
	}
	if Superseded(user, sid) {
		return Invalid(ReasonSessionMismatch), user, nil
	}
	if !live {
		return Invalid(ReasonNotAuthenticated), user, nil
	}
	return Valid(), user, nil
}

// Superseded reports whether a student's stored binding names a session
// other than sid. An unbound student is never superseded.
func Superseded(user *models.User, sid string) bool {
	return user.IsStudent() && user.CurrentSessionID != nil && *user.CurrentSessionID != sid
}

func (b *Binder) logger() *slog.Logger {
	if b.Log == nil {
		return slog.Default()
	}
	return b.Log
}
