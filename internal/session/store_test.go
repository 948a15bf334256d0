package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zaqqye/exam_guard/internal/database"
	"github.com/zaqqye/exam_guard/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.ConnectSQLite(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newSession(id, user string, ttl time.Duration) *models.LoginSession {
	return &models.LoginSession{
		SessionID: id,
		UserIDRef: user,
		Role:      models.RoleStudent,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// storeTests runs the common suite against any Store implementation.
func storeTests(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newSession("s-1", "u-1", time.Hour)))
		got, err := store.Get(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "u-1", got.UserIDRef)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "no-such-session")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("GetExpired", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newSession("s-old", "u-1", -time.Minute)))
		_, err := store.Get(ctx, "s-old")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Destroy", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newSession("s-del", "u-2", time.Hour)))
		require.NoError(t, store.Destroy(ctx, "s-del"))
		_, err := store.Get(ctx, "s-del")
		assert.True(t, errors.Is(err, ErrNotFound))
		// Twice is fine.
		require.NoError(t, store.Destroy(ctx, "s-del"))
	})

	t.Run("DestroyMissing", func(t *testing.T) {
		assert.NoError(t, store.Destroy(ctx, "never-existed"))
	})

	t.Run("DestroyForUser", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newSession("s-a", "u-3", time.Hour)))
		require.NoError(t, store.Create(ctx, newSession("s-b", "u-3", time.Hour)))
		require.NoError(t, store.Create(ctx, newSession("s-c", "u-4", time.Hour)))

		n, err := store.DestroyForUser(ctx, "u-3")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = store.Get(ctx, "s-a")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = store.Get(ctx, "s-b")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = store.Get(ctx, "s-c")
		assert.NoError(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTests(t, NewMemoryStore())
}

func TestGormStore(t *testing.T) {
	storeTests(t, NewGormStore(testDB(t)))
}

func TestGormStoreKeepsTombstones(t *testing.T) {
	db := testDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSession("s-1", "u-1", time.Hour)))
	require.NoError(t, store.Destroy(ctx, "s-1"))

	var row models.LoginSession
	require.NoError(t, db.Where("session_id = ?", "s-1").First(&row).Error)
	assert.NotNil(t, row.DestroyedAt)
}
