package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Algorithm names an Argon2 variant.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmArgon2i  Algorithm = "argon2i"
)

const (
	maxMemoryKiB = 4 * 1024 * 1024
	maxTime      = 64
	dummyInput   = "idcore-timing-equaliser"
)

var (
	// ErrEmptyPassword rejects hashing of an empty secret.
	ErrEmptyPassword = errors.New("password: plaintext is empty")

	errMalformedHash = errors.New("password: malformed hash")
)

// PasswordParams controls the cost factors of password hashing.
type PasswordParams struct {
	Algorithm Algorithm
	// Version is the Argon2 version number; only 19 (0x13) is supported.
	Version uint32
	// Memory is the amount of memory (in kibibytes) to use.
	Memory uint32
	// Time is the number of iterations.
	Time uint32
	// Threads is the degree of parallelism.
	Threads    uint8
	SaltLength uint32
	KeyLength  uint32
}

// DefaultPasswordParams returns the Argon2id parameters used when configuration leaves them unset.
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		Algorithm:  AlgorithmArgon2id,
		Version:    argon2.Version,
		Memory:     64 * 1024, // 64 MiB
		Time:       3,
		Threads:    2,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// Validate ensures the parameters are usable for hashing new passwords.
func (p PasswordParams) Validate() error {
	switch p.Algorithm {
	case AlgorithmArgon2id, AlgorithmArgon2i:
	default:
		return fmt.Errorf("argon2: unsupported algorithm %q", p.Algorithm)
	}
	if p.Version != argon2.Version {
		return fmt.Errorf("argon2: unsupported version %d (only %d)", p.Version, argon2.Version)
	}
	if p.Time == 0 {
		return fmt.Errorf("argon2: time cost must be greater than zero")
	}
	if p.Threads == 0 {
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	if p.SaltLength < 8 {
		return fmt.Errorf("argon2: salt length must be at least 8 bytes (got %d)", p.SaltLength)
	}
	if p.KeyLength < 16 {
		return fmt.Errorf("argon2: key length must be at least 16 bytes (got %d)", p.KeyLength)
	}
	return nil
}

// PasswordHasher produces and verifies self-describing Argon2 password hashes.
// It holds no mutable state and is safe for concurrent use.
type PasswordHasher struct {
	params PasswordParams
	pepper []byte
	dummy  string
}

// NewPasswordHasher validates params and prepares a hasher. A non-empty pepper is mixed into
// every new hash and recorded in the encoded parameters.
func NewPasswordHasher(params PasswordParams, pepper []byte) (*PasswordHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	h := &PasswordHasher{params: params}
	if len(pepper) > 0 {
		h.pepper = append([]byte(nil), pepper...)
	}

	dummy, err := h.Hash(dummyInput)
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Params returns the parameters used for new hashes.
func (h *PasswordHasher) Params() PasswordParams {
	return h.params
}

// Hash derives a salted digest of plain and encodes it in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=2[,pk=1]$<salt>$<digest>
func (h *PasswordHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}

	salt, err := RandomBytes(int(h.params.SaltLength))
	if err != nil {
		return "", err
	}

	peppered := len(h.pepper) > 0
	digest := derive(h.params.Algorithm, h.keyed(plain, peppered), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLength)

	return encodePHC(phc{
		algorithm: h.params.Algorithm,
		version:   h.params.Version,
		memory:    h.params.Memory,
		time:      h.params.Time,
		threads:   h.params.Threads,
		peppered:  peppered,
		salt:      salt,
		digest:    digest,
	}), nil
}

// Verify reports whether plain matches the encoded hash. Malformed hashes report false.
func (h *PasswordHasher) Verify(plain, encoded string) bool {
	parsed, err := decodePHC(encoded)
	if err != nil {
		return false
	}
	if parsed.peppered && len(h.pepper) == 0 {
		return false
	}

	candidate := derive(parsed.algorithm, h.keyed(plain, parsed.peppered), parsed.salt, parsed.time, parsed.memory, parsed.threads, uint32(len(parsed.digest)))
	return subtle.ConstantTimeCompare(candidate, parsed.digest) == 1
}

// DummyVerify spends the same work as a real verification against an internal hash.
func (h *PasswordHasher) DummyVerify(plain string) {
	_ = h.Verify(plain, h.dummy)
}

// NeedsRehash reports whether encoded was produced with different parameters or pepper usage.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	parsed, err := decodePHC(encoded)
	if err != nil {
		return true
	}
	return parsed.algorithm != h.params.Algorithm ||
		parsed.version != h.params.Version ||
		parsed.memory != h.params.Memory ||
		parsed.time != h.params.Time ||
		parsed.threads != h.params.Threads ||
		uint32(len(parsed.salt)) != h.params.SaltLength ||
		uint32(len(parsed.digest)) != h.params.KeyLength ||
		parsed.peppered != (len(h.pepper) > 0)
}

func (h *PasswordHasher) keyed(plain string, peppered bool) []byte {
	if !peppered || len(h.pepper) == 0 {
		return []byte(plain)
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(plain))
	return mac.Sum(nil)
}

func derive(alg Algorithm, secret, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte {
	if alg == AlgorithmArgon2i {
		return argon2.Key(secret, salt, time, memory, threads, keyLen)
	}
	return argon2.IDKey(secret, salt, time, memory, threads, keyLen)
}

type phc struct {
	algorithm Algorithm
	version   uint32
	memory    uint32
	time      uint32
	threads   uint8
	peppered  bool
	salt      []byte
	digest    []byte
}

func encodePHC(p phc) string {
	params := fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, p.threads)
	if p.peppered {
		params += ",pk=1"
	}
	return fmt.Sprintf("$%s$v=%d$%s$%s$%s",
		p.algorithm,
		p.version,
		params,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.digest),
	)
}

func decodePHC(encoded string) (phc, error) {
	var out phc

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return out, errMalformedHash
	}

	switch Algorithm(parts[1]) {
	case AlgorithmArgon2id, AlgorithmArgon2i:
		out.algorithm = Algorithm(parts[1])
	default:
		return out, errMalformedHash
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return out, errMalformedHash
	}
	v, err := strconv.ParseUint(version, 10, 32)
	if err != nil || uint32(v) != argon2.Version {
		return out, errMalformedHash
	}
	out.version = uint32(v)

	var seen int
	for _, kv := range strings.Split(parts[3], ",") {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return out, errMalformedHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return out, errMalformedHash
		}
		switch key {
		case "m":
			out.memory = uint32(n)
			seen++
		case "t":
			out.time = uint32(n)
			seen++
		case "p":
			if n > 255 {
				return out, errMalformedHash
			}
			out.threads = uint8(n)
			seen++
		case "pk":
			out.peppered = n == 1
		default:
			return out, errMalformedHash
		}
	}
	if seen != 3 || out.time == 0 || out.time > maxTime || out.threads == 0 ||
		out.memory < 8*uint32(out.threads) || out.memory > maxMemoryKiB {
		return out, errMalformedHash
	}

	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) == 0 {
		return out, errMalformedHash
	}
	if out.digest, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.digest) < 4 {
		return out, errMalformedHash
	}
	return out, nil
}
