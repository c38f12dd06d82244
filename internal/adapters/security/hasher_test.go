package security_test

import (
	"strings"
	"testing"

	"github.com/rollboy-tz/mult-schools-management-system/internal/adapters/security"
	"golang.org/x/crypto/bcrypt"
)

func testArgonParams() security.Argon2Params {
	return security.Argon2Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashersRoundTrip(t *testing.T) {
	t.Parallel()

	argon, err := security.NewArgon2Hasher(testArgonParams())
	if err != nil {
		t.Fatalf("argon2 hasher: %v", err)
	}
	cases := []struct {
		name   string
		hasher interface {
			Hash(string) (string, error)
			Verify(string, string) (bool, error)
		}
		prefix string
	}{
		{name: "bcrypt", hasher: security.NewBcryptHasher(bcrypt.MinCost), prefix: "$2a$"},
		{name: "argon2id", hasher: argon, prefix: "$argon2id$v=19$"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			first, err := tc.hasher.Hash("Passw0rd1")
			if err != nil {
				t.Fatalf("hash failed: %v", err)
			}
			second, err := tc.hasher.Hash("Passw0rd1")
			if err != nil {
				t.Fatalf("hash failed: %v", err)
			}
			if !strings.HasPrefix(first, tc.prefix) {
				t.Fatalf("unexpected hash format %q", first)
			}
			if first == second {
				t.Fatalf("hashes must be salted")
			}
			if ok, err := tc.hasher.Verify("Passw0rd1", first); err != nil || !ok {
				t.Fatalf("expected match, got ok=%v err=%v", ok, err)
			}
			if ok, err := tc.hasher.Verify("Passw0rd2", first); err != nil || ok {
				t.Fatalf("expected clean mismatch, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestMultiHasherVerifiesBothFormats(t *testing.T) {
	t.Parallel()

	bcryptPrimary, err := security.NewPasswordHasher("bcrypt", bcrypt.MinCost, testArgonParams())
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	argonPrimary, err := security.NewPasswordHasher("argon2id", bcrypt.MinCost, testArgonParams())
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}

	legacy, err := bcryptPrimary.Hash("Passw0rd1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if ok, err := argonPrimary.Verify("Passw0rd1", legacy); err != nil || !ok {
		t.Fatalf("argon2 primary must still verify bcrypt hashes, ok=%v err=%v", ok, err)
	}
	fresh, err := argonPrimary.Hash("Passw0rd1")
	if err != nil || !strings.HasPrefix(fresh, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %q err=%v", fresh, err)
	}

	if _, err := argonPrimary.Verify("Passw0rd1", "plaintext"); err == nil {
		t.Fatalf("expected error for unknown hash format")
	}
	if _, err := argonPrimary.Verify("Passw0rd1", "$argon2id$v=19$m=x$bad$bad"); err == nil {
		t.Fatalf("expected error for malformed argon2 hash")
	}
	if _, err := security.NewPasswordHasher("md5", 0, testArgonParams()); err == nil {
		t.Fatalf("expected unsupported algorithm error")
	}
}
