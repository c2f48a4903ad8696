package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// DigitAlphabet is the default alphabet for verification codes.
const DigitAlphabet = "0123456789"

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer, err := RandomBytes(length)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// RandomBytes reads length bytes from the system CSPRNG.
func RandomBytes(length int) ([]byte, error) {
	if length <= 0 {
		return nil, errors.New("crypto: length must be positive")
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return nil, fmt.Errorf("crypto: read random: %w", err)
	}
	return buffer, nil
}

// RandomCode draws length symbols uniformly from alphabet using the system CSPRNG.
func RandomCode(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: code length must be positive")
	}
	symbols := []rune(alphabet)
	if len(symbols) < 2 {
		return "", errors.New("crypto: code alphabet needs at least two symbols")
	}

	limit := big.NewInt(int64(len(symbols)))
	out := make([]rune, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("crypto: read random: %w", err)
		}
		out[i] = symbols[n.Int64()]
	}
	return string(out), nil
}

// SHA256Hex returns the hex encoded SHA-256 digest of value.
func SHA256Hex(value string) string {
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])
}

// EqualDigest compares two digests in constant time.
func EqualDigest(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
