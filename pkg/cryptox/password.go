package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	keyLength  = 32 // length of the derived key
	saltLength = 16 // length of the per-hash random salt
)

// ErrPasswordMismatch is returned by Verify when the password does not
// match the stored hash.
var ErrPasswordMismatch = errors.New("cryptox: password does not match")

// Params is the Argon2id work factor. Raising it only affects new hashes;
// existing hashes keep verifying because the parameters are encoded in the
// PHC string itself.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams follows the RFC 9106 low-memory recommendation.
var DefaultParams = Params{
	MemoryKiB:   19 * 1024,
	Iterations:  2,
	Parallelism: 1,
}

// Hasher derives and verifies Argon2id password hashes. Pepper, when set,
// is appended to every password before hashing; it lives outside the
// database so a dumped table alone is not enough for an offline attack.
type Hasher struct {
	Params Params
	Pepper string

	// dummy is a prehashed throwaway password used by VerifyDummy.
	dummy string
}

// NewHasher returns a Hasher with the given work factor. Zero-value params
// fall back to DefaultParams.
func NewHasher(params Params, pepper string) (*Hasher, error) {
	if params == (Params{}) {
		params = DefaultParams
	}
	if params.MemoryKiB == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, errors.New("cryptox: argon2 params must all be non-zero")
	}

	h := &Hasher{Params: params, Pepper: pepper}

	dummy, err := h.Hash("authd-dummy-password")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy

	return h, nil
}

// Hash generates a PHC-format Argon2id hash string including salt and
// parameters, with a fresh random salt per call.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password+h.Pepper),
		salt,
		h.Params.Iterations,
		h.Params.MemoryKiB,
		h.Params.Parallelism,
		keyLength,
	)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Key := base64.RawStdEncoding.EncodeToString(key)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		h.Params.MemoryKiB,
		h.Params.Iterations,
		h.Params.Parallelism,
		b64Salt,
		b64Key,
	), nil
}

// Verify compares a plaintext password against a PHC-style Argon2id hash.
// Malformed hashes verify false via an error; Verify never panics.
func (h *Hasher) Verify(password, encodedHash string) error {
	params, salt, want, err := decodeHash(encodedHash)
	if err != nil {
		return err
	}

	got := argon2.IDKey(
		[]byte(password+h.Pepper),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(want)), // #nosec G115 - key length is bounded by the hash we decoded
	)

	if subtle.ConstantTimeCompare(got, want) == 1 {
		return nil
	}
	return ErrPasswordMismatch
}

// VerifyDummy burns the same amount of work as a real verification and
// always fails. The login path calls this for unknown emails so "no such
// account" and "wrong password" take comparable time.
func (h *Hasher) VerifyDummy(password string) {
	_ = h.Verify(password, h.dummy)
}

// decodeHash parses the PHC format: $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
func decodeHash(encodedHash string) (Params, []byte, []byte, error) {
	parts := make([]string, 0, 6)
	start := 0
	for i := range len(encodedHash) {
		if encodedHash[i] == '$' {
			parts = append(parts, encodedHash[start:i])
			start = i + 1
		}
	}
	parts = append(parts, encodedHash[start:])

	// Expected structure: ["", "argon2id", "v=19", "m=X,t=Y,p=Z", salt, hash]
	if len(parts) != 6 {
		return Params{}, nil, nil, errors.New("cryptox: invalid hash format: expected 6 parts")
	}
	if parts[1] != "argon2id" {
		return Params{}, nil, nil, errors.New("cryptox: invalid hash format: not argon2id")
	}
	if parts[2] != "v=19" {
		return Params{}, nil, nil, errors.New("cryptox: invalid hash format: wrong version")
	}

	var params Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.MemoryKiB, &params.Iterations, &params.Parallelism); err != nil {
		return Params{}, nil, nil, fmt.Errorf("cryptox: invalid hash format: parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("cryptox: invalid hash format: decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("cryptox: invalid hash format: decode hash: %w", err)
	}

	return params, salt, key, nil
}
