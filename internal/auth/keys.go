// Package auth verifies the SDK keys presented to the flag service.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyPrefix is the prefix for all generated SDK keys
	KeyPrefix = "sdk_"
	// KeyLength is the length of the random part of the key (32 bytes = 256 bits)
	KeyLength = 32
	// BCryptCost is the cost factor for bcrypt hashing
	BCryptCost = 12
)

// GenerateSDKKey generates a new random SDK key.
func GenerateSDKKey() (string, error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// HashSDKKey hashes a key using bcrypt at the given cost (BCryptCost when 0).
func HashSDKKey(key string, cost int) (string, error) {
	if cost == 0 {
		cost = BCryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// VerifySDKKey verifies a key against a bcrypt hash.
func VerifySDKKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// ExtractBearerToken extracts the bearer token from an Authorization header
func ExtractBearerToken(authHeader string) string {
	// Remove "Bearer " prefix (case-insensitive)
	token := strings.TrimSpace(authHeader)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// KeyRing accepts a set of plain keys and bcrypt-hashed keys. Tokens that
// verified against a hash are remembered by digest, so bcrypt runs once per
// distinct key rather than once per request.
type KeyRing struct {
	plain  []string
	hashes []string

	verified sync.Map // [32]byte sha256 of token -> struct{}
}

// NewKeyRing builds a key ring. Empty entries are ignored.
func NewKeyRing(plain []string, hashes []string) *KeyRing {
	kr := &KeyRing{}
	for _, k := range plain {
		if k = strings.TrimSpace(k); k != "" {
			kr.plain = append(kr.plain, k)
		}
	}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			kr.hashes = append(kr.hashes, h)
		}
	}
	return kr
}

// Allow reports whether token is one of the ring's keys.
func (kr *KeyRing) Allow(token string) bool {
	if token == "" {
		return false
	}
	for _, k := range kr.plain {
		if subtle.ConstantTimeCompare([]byte(token), []byte(k)) == 1 {
			return true
		}
	}
	if len(kr.hashes) == 0 {
		return false
	}

	digest := sha256.Sum256([]byte(token))
	if _, ok := kr.verified.Load(digest); ok {
		return true
	}
	// bcrypt hashes are salted, so every hash has to be tried
	for _, h := range kr.hashes {
		if VerifySDKKey(token, h) {
			kr.verified.Store(digest, struct{}{})
			return true
		}
	}
	return false
}
