package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zaqqye/exam_guard/internal/logging"
	"github.com/zaqqye/exam_guard/internal/models"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) SessionSuperseded(userID, oldSessionID string) {
	n.mu.Lock()
	n.calls = append(n.calls, userID+":"+oldSessionID)
	n.mu.Unlock()
}

// failingStore wraps a Store and fails every Destroy.
type failingStore struct {
	Store
}

func (failingStore) Destroy(context.Context, string) error {
	return errors.New("store unavailable")
}

func createUser(t *testing.T, db *gorm.DB, role string) *models.User {
	t.Helper()
	u := &models.User{
		UserID: uuid.NewString(),
		Email:  uuid.NewString() + "@example.com",
		Role:   role,
		Active: true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func reload(t *testing.T, db *gorm.DB, u *models.User) *models.User {
	t.Helper()
	var got models.User
	require.NoError(t, db.First(&got, u.ID).Error)
	return &got
}

func login(t *testing.T, b *Binder, u *models.User) string {
	t.Helper()
	sid := uuid.NewString()
	require.NoError(t, b.Store.Create(context.Background(), &models.LoginSession{
		SessionID: sid,
		UserIDRef: u.UserID,
		Role:      u.Role,
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, b.Bind(context.Background(), u, sid))
	return sid
}

func newBinder(t *testing.T) (*Binder, *recordingNotifier) {
	t.Helper()
	db := testDB(t)
	n := &recordingNotifier{}
	return &Binder{DB: db, Store: NewGormStore(db), Notifier: n, Log: logging.Discard()}, n
}

func TestBindSecondLoginDestroysFirst(t *testing.T) {
	b, notifier := newBinder(t)
	ctx := context.Background()
	student := createUser(t, b.DB, models.RoleStudent)

	s1 := login(t, b, student)
	s2 := login(t, b, student)

	stored := reload(t, b.DB, student)
	require.NotNil(t, stored.CurrentSessionID)
	assert.Equal(t, s2, *stored.CurrentSessionID)

	_, err := b.Store.Get(ctx, s1)
	assert.True(t, errors.Is(err, ErrNotFound), "first session must be destroyed server-side")
	_, err = b.Store.Get(ctx, s2)
	assert.NoError(t, err)

	assert.Equal(t, []string{student.UserID + ":" + s1}, notifier.calls)

	verdict, _, err := b.Verify(ctx, student.UserID, s1, false)
	require.NoError(t, err)
	assert.Equal(t, Invalid(ReasonSessionMismatch), verdict)

	verdict, _, err = b.Verify(ctx, student.UserID, s2, true)
	require.NoError(t, err)
	assert.Equal(t, Valid(), verdict)
}

func TestBindSameSessionIsNoop(t *testing.T) {
	b, notifier := newBinder(t)
	student := createUser(t, b.DB, models.RoleStudent)

	sid := login(t, b, student)
	require.NoError(t, b.Bind(context.Background(), student, sid))

	_, err := b.Store.Get(context.Background(), sid)
	assert.NoError(t, err)
	assert.Empty(t, notifier.calls)
}

func TestBindIgnoresStaff(t *testing.T) {
	b, _ := newBinder(t)
	ctx := context.Background()

	for _, role := range []string{models.RoleTeacher, models.RoleAdmin} {
		staff := createUser(t, b.DB, role)
		s1 := login(t, b, staff)
		s2 := login(t, b, staff)

		assert.Nil(t, reload(t, b.DB, staff).CurrentSessionID, role)
		for _, sid := range []string{s1, s2} {
			verdict, _, err := b.Verify(ctx, staff.UserID, sid, true)
			require.NoError(t, err)
			assert.True(t, verdict.Valid, role)
		}
	}
}

func TestBindDestroyFailureKeepsBinding(t *testing.T) {
	b, _ := newBinder(t)
	student := createUser(t, b.DB, models.RoleStudent)
	s1 := login(t, b, student)

	b.Store = failingStore{Store: b.Store}
	err := b.Bind(context.Background(), student, uuid.NewString())
	require.Error(t, err)

	stored := reload(t, b.DB, student)
	require.NotNil(t, stored.CurrentSessionID)
	assert.Equal(t, s1, *stored.CurrentSessionID)
}

func TestUnbindOnlyClearsOwnBinding(t *testing.T) {
	b, _ := newBinder(t)
	ctx := context.Background()
	student := createUser(t, b.DB, models.RoleStudent)

	s1 := login(t, b, student)
	s2 := login(t, b, student)

	require.NoError(t, b.Unbind(ctx, student, s1))
	stored := reload(t, b.DB, student)
	require.NotNil(t, stored.CurrentSessionID)
	assert.Equal(t, s2, *stored.CurrentSessionID)

	require.NoError(t, b.Unbind(ctx, student, s2))
	assert.Nil(t, reload(t, b.DB, student).CurrentSessionID)
}

func TestRelease(t *testing.T) {
	b, _ := newBinder(t)
	ctx := context.Background()
	student := createUser(t, b.DB, models.RoleStudent)
	sid := login(t, b, student)

	n, err := b.Release(ctx, student)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, reload(t, b.DB, student).CurrentSessionID)

	_, err = b.Store.Get(ctx, sid)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestVerify(t *testing.T) {
	b, _ := newBinder(t)
	ctx := context.Background()

	verdict, user, err := b.Verify(ctx, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, Invalid(ReasonNotAuthenticated), verdict)
	assert.Nil(t, user)

	verdict, _, err = b.Verify(ctx, uuid.NewString(), "sid", true)
	require.NoError(t, err)
	assert.Equal(t, Invalid(ReasonUserNotFound), verdict)

	student := createUser(t, b.DB, models.RoleStudent)
	verdict, _, err = b.Verify(ctx, student.UserID, "unbound", true)
	require.NoError(t, err)
	assert.True(t, verdict.Valid, "an unbound student is not superseded")

	sid := login(t, b, student)
	verdict, _, err = b.Verify(ctx, student.UserID, sid, false)
	require.NoError(t, err)
	assert.Equal(t, Invalid(ReasonNotAuthenticated), verdict, "destroyed session without newer login")
}
