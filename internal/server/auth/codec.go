package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// TokenCodec issues and verifies access tokens with a KeyMaterial.
type TokenCodec struct {
	keys   *KeyMaterial
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// WithIssuer stamps "iss" on issued tokens and requires it on verification.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) { c.issuer = issuer }
}

func NewTokenCodec(keys *KeyMaterial, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	c.parser = jwt.NewParser(parserOpts...)
	return c
}

// Issue signs a token for subject valid from now for the configured
// lifetime. roles is copied in order; an empty list leaves the claim out.
func (c *TokenCodec) Issue(subject string, roles []string) (string, error) {
	if subject == "" {
		return "", errors.New("empty token subject")
	}

	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.keys.AccessTTL())),
		},
	}
	if len(roles) > 0 {
		claims.Roles = append([]string(nil), roles...)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.keys.signingKey())
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks structure, signature and expiry, in that order. Failures
// are common.ErrMalformedToken, common.ErrInvalidSignature or
// common.ErrTokenExpired (now >= exp); the jwt library error is kept in the
// chain for logging.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := c.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.keys.signingKey(), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			// header and payload decode, so the damage is in the signature segment
			if _, _, uerr := c.parser.ParseUnverified(tokenString, &Claims{}); uerr == nil {
				return nil, fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
			}
		}
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, common.ErrInvalidSignature
	}
	if claims.Username() == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrMalformedToken)
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", common.ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", common.ErrTokenExpired, err)
	default:
		// missing exp/iat, wrong issuer, iat in the future
		return fmt.Errorf("%w: %v", common.ErrMalformedToken, err)
	}
}

// Subject verifies tokenString and returns its username.
func (c *TokenCodec) Subject(tokenString string) (string, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Username(), nil
}

// Expiry verifies tokenString and returns its expiry.
func (c *TokenCodec) Expiry(tokenString string) (time.Time, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	return claims.Expiry(), nil
}

// IsValid collapses every Verify failure to false.
func (c *TokenCodec) IsValid(tokenString string) bool {
	_, err := c.Verify(tokenString)
	return err == nil
}
