// Package refreshtokens declares the server-side repository contract for
// managing refresh tokens in persistent storage.
package refreshtokens

import (
	"context"

	"github.com/dmitrijs2005/authservice/internal/server/models"
)

// Repository stores refresh token rows. Every method runs a single
// statement, so atomicity across calls comes from the DBTX it is bound to.
type Repository interface {
	// Create inserts rt and fills its ID and CreatedAt. A duplicate token
	// value is common.ErrorConflict.
	Create(ctx context.Context, rt *models.RefreshToken) (*models.RefreshToken, error)

	// Find looks a row up by its token value; absent rows are
	// common.ErrorNotFound.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete removes the row with the given value and reports whether one
	// existed.
	Delete(ctx context.Context, token string) (bool, error)

	// DeleteByUser removes every row owned by userID and returns the count.
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
