package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing methods.
const (
	MethodHS256 = "HS256"
	MethodEdDSA = "EdDSA"
)

const (
	hmacPEMType     = "HMAC SECRET"
	ed25519PEMType  = "PRIVATE KEY"
	minHMACSecret   = 32
	generatedSecret = 64
)

// ErrKeyFileExists is returned by GenerateKeyFile when the target already exists.
var ErrKeyFileExists = errors.New("auth: key file already exists")

// KeySet is the immutable signing context used by TokenService.
type KeySet struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
}

// Method returns the JWT algorithm name.
func (k *KeySet) Method() string { return k.method.Alg() }

// KeyID identifies the key in the token header.
func (k *KeySet) KeyID() string { return k.keyID }

// ParseMethod normalises a configured signing method name.
func ParseMethod(method string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", "EDDSA", "ED25519":
		return MethodEdDSA, nil
	case "HS256":
		return MethodHS256, nil
	default:
		return "", fmt.Errorf("auth: unsupported signing method %q", method)
	}
}

// NewHMACKeySet builds an HS256 key set from a shared secret.
func NewHMACKeySet(secret []byte) (*KeySet, error) {
	if len(secret) < minHMACSecret {
		return nil, fmt.Errorf("auth: hmac secret must be at least %d bytes", minHMACSecret)
	}
	cpy := append([]byte(nil), secret...)
	return &KeySet{
		method:    jwt.SigningMethodHS256,
		signKey:   cpy,
		verifyKey: cpy,
		keyID:     fingerprint(cpy),
	}, nil
}

// NewEd25519KeySet builds an EdDSA key set from a private key.
func NewEd25519KeySet(priv ed25519.PrivateKey) (*KeySet, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("auth: invalid ed25519 private key")
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("auth: invalid ed25519 public key")
	}
	return &KeySet{
		method:    jwt.SigningMethodEdDSA,
		signKey:   priv,
		verifyKey: pub,
		keyID:     fingerprint(pub),
	}, nil
}

// LoadKeySet reads the key file at path. The file's key type must match method.
func LoadKeySet(path, method string) (*KeySet, error) {
	method, err := ParseMethod(method)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read key file: %w", err)
	}

	switch method {
	case MethodHS256:
		block, _ := pem.Decode(data)
		if block == nil || block.Type != hmacPEMType {
			return nil, fmt.Errorf("auth: %s does not contain an %s block", path, hmacPEMType)
		}
		return NewHMACKeySet(block.Bytes)
	default:
		key, err := jwt.ParseEdPrivateKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("auth: parse ed25519 key: %w", err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("auth: key file does not hold an ed25519 key")
		}
		return NewEd25519KeySet(priv)
	}
}

// GenerateKeyFile creates a fresh key for method and writes it to path with owner-only
// permissions. It never overwrites an existing file.
func GenerateKeyFile(path, method string) (*KeySet, error) {
	method, err := ParseMethod(method)
	if err != nil {
		return nil, err
	}

	var (
		keys  *KeySet
		block *pem.Block
	)
	switch method {
	case MethodHS256:
		secret := make([]byte, generatedSecret)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
		if keys, err = NewHMACKeySet(secret); err != nil {
			return nil, err
		}
		block = &pem.Block{Type: hmacPEMType, Bytes: secret}
	default:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate ed25519 key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("auth: marshal ed25519 key: %w", err)
		}
		if keys, err = NewEd25519KeySet(priv); err != nil {
			return nil, err
		}
		block = &pem.Block{Type: ed25519PEMType, Bytes: der}
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("auth: create key directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyFileExists, path)
		}
		return nil, fmt.Errorf("auth: create key file: %w", err)
	}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("auth: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("auth: close key file: %w", err)
	}
	return keys, nil
}

func fingerprint(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:8])
}
