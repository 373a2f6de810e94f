// Package auth issues and verifies the service's access tokens: compact
// HS256 JWTs carrying the username as "sub" and the user's role codes as
// "roles".
package auth

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/authservice/internal/common"
)

// MinSecretLength is the minimum signing secret size in bytes.
const MinSecretLength = 32

// KeyMaterial holds the process-wide HMAC-SHA-256 key and the access token
// lifetime. It is built once at startup and never changes, so it is safe to
// share between any number of goroutines.
type KeyMaterial struct {
	key       []byte
	accessTTL time.Duration
}

// NewKeyMaterial validates secret and accessTTL. A missing or short secret
// is common.ErrWeakSecret and must stop the process from starting.
func NewKeyMaterial(secret string, accessTTL time.Duration) (*KeyMaterial, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w (got %d bytes)", common.ErrWeakSecret, len(secret))
	}
	if accessTTL <= 0 {
		return nil, fmt.Errorf("access token: %w", common.ErrInvalidLifetime)
	}
	return &KeyMaterial{key: []byte(secret), accessTTL: accessTTL}, nil
}

// AccessTTL is the fixed lifetime of every issued access token.
func (k *KeyMaterial) AccessTTL() time.Duration {
	return k.accessTTL
}

// signingKey returns a copy so callers cannot mutate the held key.
func (k *KeyMaterial) signingKey() []byte {
	out := make([]byte, len(k.key))
	copy(out, k.key)
	return out
}
