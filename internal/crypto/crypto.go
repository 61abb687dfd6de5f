// Package crypto provides the password hashing and random-secret primitives
// used by the protocol engine.
package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashAlgo       = "pbkdf2-sha512"
	hashIterations = 210000
	hashKeyLen     = 64
	saltLen        = 16
	tokenLen       = 32 // bytes of entropy; hex-encoded to 64 characters
)

// humanAlphabet omits visually ambiguous glyphs (0/O, 1/l/I, v).
const humanAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuwxyz23456789"

// HashPassword derives a salted hash of pass. The result embeds the
// algorithm name, the hash, and the salt as "algo:hashB64:saltB64".
// Each call uses a fresh random salt.
func HashPassword(pass string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := pbkdf2.Key([]byte(pass), salt, hashIterations, hashKeyLen, sha512.New)
	return strings.Join([]string{
		hashAlgo,
		base64.StdEncoding.EncodeToString(hash),
		base64.StdEncoding.EncodeToString(salt),
	}, ":"), nil
}

// CheckPassword reports whether pass matches the stored hash string.
// The comparison of the derived keys is constant-time. Malformed or
// unrecognized stored values never match.
func CheckPassword(pass, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 || parts[0] != hashAlgo {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}

	candidate := pbkdf2.Key([]byte(pass), salt, hashIterations, len(hash), sha512.New)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

// RandomCode returns a uniformly random numeric code of the given number of
// digits, zero-padded.
func RandomCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// RandomToken returns a fresh auth token: 32 random bytes, hex-encoded.
func RandomToken() (string, error) {
	b := make([]byte, tokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HumanCode returns a random code of the given length drawn from an
// alphabet without visually ambiguous glyphs. Used for invite links.
func HumanCode(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(humanAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		out[i] = humanAlphabet[n.Int64()]
	}
	return string(out), nil
}
