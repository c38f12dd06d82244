package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// MultiHasher hashes with one algorithm and verifies whichever format the
// stored hash is in, so switching algorithms does not strand old accounts.
type MultiHasher struct {
	primary ports.PasswordHasher
	bcrypt  *BcryptHasher
	argon2  *Argon2Hasher
}

// NewPasswordHasher picks the primary algorithm by name ("bcrypt" or "argon2id").
func NewPasswordHasher(algorithm string, bcryptCost int, argonParams Argon2Params) (*MultiHasher, error) {
	argon, err := NewArgon2Hasher(argonParams)
	if err != nil {
		return nil, err
	}
	h := &MultiHasher{bcrypt: NewBcryptHasher(bcryptCost), argon2: argon}
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmBcrypt:
		h.primary = h.bcrypt
	case AlgorithmArgon2id:
		h.primary = h.argon2
	default:
		return nil, fmt.Errorf("unsupported password hash algorithm %q", algorithm)
	}
	return h, nil
}

func (h *MultiHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *MultiHasher) Verify(password, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, argon2Prefix):
		return h.argon2.Verify(password, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return h.bcrypt.Verify(password, hash)
	default:
		return false, errors.New("unrecognized password hash format")
	}
}
