// Package cryptox hashes and verifies user passwords.
//
// New hashes are argon2id in PHC string form:
//
//	$argon2id$v=19$m=65536,t=2,p=2$<salt>$<hash>
//
// with unpadded standard base64 segments. Bcrypt hashes ($2a$, $2b$, $2y$)
// imported from the previous user store are still accepted by VerifyPassword.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/authservice/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2ID = "argon2id"

// Params are the argon2id cost parameters used for new hashes.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the RFC 9106 second recommended option scaled down
// for an interactive login path.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Time:        2,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

var b64 = base64.RawStdEncoding

// HashPassword derives an argon2id PHC string for password.
func HashPassword(password []byte, p Params) (string, error) {
	if len(password) == 0 {
		return "", errors.New("empty password")
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 || p.SaltLength < 8 || p.KeyLength < 16 {
		return "", errors.New("invalid argon2 parameters")
	}

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey(password, salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID, argon2.Version, p.Memory, p.Time, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches encoded. A mismatch is
// (false, nil); an encoded value in no supported format is
// common.ErrInvalidPwdFormat.
func VerifyPassword(encoded string, password []byte) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$"+argon2ID+"$"):
		return verifyArgon2(encoded, password)
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), password)
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", common.ErrInvalidPwdFormat, err)
		}
		return true, nil
	default:
		return false, common.ErrInvalidPwdFormat
	}
}

func isBcrypt(encoded string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, prefix) {
			return true
		}
	}
	return false
}

type phc struct {
	params Params
	salt   []byte
	key    []byte
}

func verifyArgon2(encoded string, password []byte) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrInvalidPwdFormat, err)
	}
	got := argon2.IDKey(password, h.salt, h.params.Time, h.params.Memory, h.params.Parallelism, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return nil, errors.New("not an argon2id PHC string")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}

	var p Params
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("bad parameter %q", kv)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("bad parameter %q", kv)
		}
		switch k {
		case "m":
			p.Memory = uint32(n)
		case "t":
			p.Time = uint32(n)
		case "p":
			if n > 255 {
				return nil, fmt.Errorf("bad parameter %q", kv)
			}
			p.Parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("unknown parameter %q", k)
		}
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return nil, errors.New("missing argon2 parameters")
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, errors.New("bad salt")
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, errors.New("bad hash")
	}

	return &phc{params: p, salt: salt, key: key}, nil
}
