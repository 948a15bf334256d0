package monitor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func storageTests(t *testing.T, s Storage) {
	t.Helper()

	v, err := s.Get(SlotStarted)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set(SlotStarted, "true"))
	require.NoError(t, s.Set(SlotRefreshCount, "2"))
	v, err = s.Get(SlotStarted)
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	require.NoError(t, s.Delete(AllSlots...))
	for _, slot := range AllSlots {
		v, err := s.Get(slot)
		require.NoError(t, err)
		assert.Empty(t, v, slot)
	}
}

func TestMemoryStorage(t *testing.T) {
	storageTests(t, NewMemoryStorage())
}

func TestBoltStorage(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "client.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	storageTests(t, NewBoltStorage(db, "exam:1"))

	// Scopes are independent.
	a, b := NewBoltStorage(db, "exam:a"), NewBoltStorage(db, "exam:b")
	require.NoError(t, a.Set(SlotStarted, "true"))
	v, err := b.Get(SlotStarted)
	require.NoError(t, err)
	assert.Empty(t, v)
	require.NoError(t, b.Delete(SlotStarted))
}
