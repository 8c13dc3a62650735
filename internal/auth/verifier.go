package auth

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
	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier owns the stored secret format: Hash runs at registration and
// Verify compares a presented secret against what Hash produced.
type CredentialVerifier interface {
	Hash(secret string) (string, error)
	Verify(presented, stored string) bool
}

// PlainVerifier stores secrets verbatim. Only for migrating legacy plain-text stores.
type PlainVerifier struct{}

func (PlainVerifier) Hash(secret string) (string, error) {
	return secret, nil
}

func (PlainVerifier) Verify(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

// bcrypt only reads the first 72 bytes of a secret and rejects anything longer.
const bcryptMaxSecretBytes = 72

type BcryptVerifier struct {
	Cost int
}

func (v BcryptVerifier) Hash(secret string) (string, error) {
	cost := v.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", InputError{Reason: fmt.Sprintf("password must be at most %d bytes", bcryptMaxSecretBytes)}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

func (v BcryptVerifier) Verify(presented, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
}

const (
	argon2ID = "argon2id"

	// Upper bound on the m= parameter of a stored hash: 1 GiB in KiB.
	argon2MaxMemory = 1 << 20
)

// Argon2Verifier writes PHC strings: $argon2id$v=19$m=...,t=...,p=...$salt$hash.
type Argon2Verifier struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Verifier() Argon2Verifier {
	return Argon2Verifier{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (v Argon2Verifier) Hash(secret string) (string, error) {
	salt := make([]byte, v.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, v.Time, v.Memory, v.Parallelism, v.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		v.Memory,
		v.Time,
		v.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (v Argon2Verifier) Verify(presented, stored string) bool {
	params, salt, key, err := parseArgon2(stored)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(presented), salt, params.time, params.memory, params.parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseArgon2(encoded string) (argon2Params, []byte, []byte, error) {
	var params argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return params, nil, nil, errors.New("invalid argon2 hash format")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return params, nil, nil, errors.New("unsupported argon2 version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("parse argon2 params: %w", err)
	}
	if params.time < 1 || params.parallelism < 1 {
		return params, nil, nil, errors.New("argon2 time and parallelism must be at least 1")
	}
	if params.memory < 8*uint32(params.parallelism) || params.memory > argon2MaxMemory {
		return params, nil, nil, errors.New("argon2 memory out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, errors.New("invalid argon2 salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errors.New("invalid argon2 key")
	}

	return params, salt, key, nil
}

// NewVerifier maps a configured hasher name to its verifier.
func NewVerifier(name string) (CredentialVerifier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bcrypt":
		return BcryptVerifier{}, nil
	case "argon2", "argon2id":
		return DefaultArgon2Verifier(), nil
	case "plain":
		return PlainVerifier{}, nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", name)
	}
}
