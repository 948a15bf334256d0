// Package session keeps server-side login sessions and binds each student
// account to a single authoritative session.
package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zaqqye/exam_guard/internal/models"
)

// ErrNotFound is returned by Store.Get for sessions that are missing,
// destroyed, or expired.
var ErrNotFound = errors.New("session not found")

// Store abstracts session persistence so that sessions can live in the
// database (default) or in memory.
type Store interface {
	// Create persists a new live session.
	Create(ctx context.Context, s *models.LoginSession) error
	// Get returns a live session or ErrNotFound.
	Get(ctx context.Context, id string) (*models.LoginSession, error)
	// Destroy ends a session. Destroying an unknown or already destroyed
	// session is not an error.
	Destroy(ctx context.Context, id string) error
	// DestroyForUser ends every live session of a user and returns how many
	// were ended.
	DestroyForUser(ctx context.Context, userID string) (int, error)
}
