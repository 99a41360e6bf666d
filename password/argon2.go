// Package password provides Argon2id hashing in PHC string format for
// credential storage and verification.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("password: malformed hash")

// Config holds the Argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns moderate interactive-login parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with a fixed parameter set.
// Verification honors the parameters embedded in each stored hash, so
// parameter upgrades do not invalidate existing credentials.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < 8*1024:
		return nil, errors.New("password: memory must be >= 8192 KiB")
	case cfg.Time < 1:
		return nil, errors.New("password: time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password: parallelism must be >= 1")
	case cfg.SaltLength < 16:
		return nil, errors.New("password: salt length must be >= 16")
	case cfg.KeyLength < 16:
		return nil, errors.New("password: key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a PHC-formatted Argon2id hash with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the stored PHC hash.
// Comparison is constant-time.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	memory, time, parallelism, salt, key, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), salt, time, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

func parsePHC(encoded string) (memory, time uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}
	version, convErr := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if convErr != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return 0, 0, 0, nil, nil, ErrMalformedHash
		}
		v, parseErr := strconv.ParseUint(kv[1], 10, 32)
		if parseErr != nil {
			return 0, 0, 0, nil, nil, ErrMalformedHash
		}
		switch kv[0] {
		case "m":
			memory = uint32(v)
		case "t":
			time = uint32(v)
		case "p":
			if v == 0 || v > 255 {
				return 0, 0, 0, nil, nil, ErrMalformedHash
			}
			parallelism = uint8(v)
		default:
			return 0, 0, 0, nil, nil, ErrMalformedHash
		}
	}
	if memory == 0 || time == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	salt, decErr := base64.RawStdEncoding.DecodeString(parts[4])
	if decErr != nil || len(salt) < 16 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}
	key, decErr = base64.RawStdEncoding.DecodeString(parts[5])
	if decErr != nil || len(key) < 16 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	return memory, time, parallelism, salt, key, nil
}
