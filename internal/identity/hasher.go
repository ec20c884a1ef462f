package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// HasherParams tune the cost of credential hashing. They are configuration
// inputs, not compiled-in policy.
type HasherParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxPasswordLength bounds accepted plaintext length in bytes.
	MaxPasswordLength int
}

// DefaultHasherParams returns moderate argon2id settings suitable for an API
// service node.
func DefaultHasherParams() HasherParams {
	return HasherParams{
		MemoryKiB:         64 * 1024,
		Iterations:        2,
		Parallelism:       1,
		SaltLength:        16,
		KeyLength:         32,
		MaxPasswordLength: 256,
	}
}

// Hasher produces and verifies salted argon2id digests in PHC string format.
type Hasher struct {
	params HasherParams
}

func NewHasher(params HasherParams) *Hasher {
	def := DefaultHasherParams()
	if params.MemoryKiB == 0 {
		params.MemoryKiB = def.MemoryKiB
	}
	if params.Iterations == 0 {
		params.Iterations = def.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = def.Parallelism
	}
	if params.SaltLength == 0 {
		params.SaltLength = def.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = def.KeyLength
	}
	if params.MaxPasswordLength <= 0 {
		params.MaxPasswordLength = def.MaxPasswordLength
	}
	return &Hasher{params: params}
}

// Hash derives a digest from the plaintext under a fresh random salt. Two
// calls with the same plaintext yield different digests.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if len(plaintext) > h.params.MaxPasswordLength {
		return "", fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, h.params.MaxPasswordLength)
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether the plaintext matches the digest. The comparison is
// constant-time over the derived key, and a malformed digest yields false
// rather than an error.
func (h *Hasher) Verify(plaintext, digest string) bool {
	if plaintext == "" || len(plaintext) > h.params.MaxPasswordLength {
		return false
	}
	memory, iterations, parallelism, salt, key, ok := decodeDigest(digest)
	if !ok {
		return false
	}
	derived := argon2.IDKey([]byte(plaintext), salt, iterations, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1
}

// decodeDigest parses the PHC encoding produced by Hash. Verification uses
// the parameters embedded in the digest so that stored credentials survive a
// cost reconfiguration.
func decodeDigest(digest string) (memory, iterations uint32, parallelism uint8, salt, key []byte, ok bool) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return 0, 0, 0, nil, nil, false
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	return memory, iterations, parallelism, salt, key, true
}
