package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Returned when a stored digest can not be parsed at all.
// Distinct from a plain mismatch: a corrupt digest is a data problem, not a wrong password.
var ErrMalformedDigest = errors.New("malformed password digest")

type argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2Hasher hashes passwords with argon2id and stores them in the
// standard PHC string format, so the parameters travel with the digest
// and can be tightened later without breaking existing records.
// Will be used as default one if user not provide it's own.
type Argon2Hasher struct {
	params argon2Params
}

func NewArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{
		params: argon2Params{
			Memory:      64 * 1024,
			Iterations:  3,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

func (h Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	digest := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return digest, nil
}

// Verify reports whether the password matches the stored digest.
// A mismatch is (false, nil), an error means the digest itself is broken.
func (h Argon2Hasher) Verify(digest string, password string) (bool, error) {
	params, salt, hash, err := decodeDigest(digest)
	if err != nil {
		return false, err
	}

	// Compare with the parameters embedded in the digest, not the current
	// ones, so records hashed under older settings still verify.
	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(hash)))

	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// NeedsRehash reports whether the digest was produced with weaker or simply
// different parameters than the current ones. Unparseable digests need a
// rehash by definition.
func (h Argon2Hasher) NeedsRehash(digest string) bool {
	params, salt, hash, err := decodeDigest(digest)
	if err != nil {
		return true
	}

	return params.Memory != h.params.Memory ||
		params.Iterations != h.params.Iterations ||
		params.Parallelism != h.params.Parallelism ||
		uint32(len(salt)) != h.params.SaltLength ||
		uint32(len(hash)) != h.params.KeyLength
}

func decodeDigest(digest string) (argon2Params, []byte, []byte, error) {
	var params argon2Params

	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: unsupported version", ErrMalformedDigest)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("%w: bad params", ErrMalformedDigest)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: bad salt", ErrMalformedDigest)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: bad hash", ErrMalformedDigest)
	}

	return params, salt, hash, nil
}
