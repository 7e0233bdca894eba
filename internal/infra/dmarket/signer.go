package dmarket

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const signaturePrefix = "dmar ed25519 "

// Signer handles DMarket request signatures.
type Signer struct {
	publicKey string
	key       ed25519.PrivateKey
	now       func() time.Time
}

// NewSigner creates a Signer from the hex encoded key pair.
// secretKey may be the 32-byte seed or the 64-byte seed+public form.
func NewSigner(publicKey, secretKey string) (*Signer, error) {
	raw, err := hex.DecodeString(secretKey)
	if err != nil {
		return nil, fmt.Errorf("secret key is not hex: %w", err)
	}

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("secret key has %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	return &Signer{publicKey: publicKey, key: key, now: time.Now}, nil
}

// GenerateHeaders creates the authentication headers for a request.
// method: GET, POST, DELETE
// pathWithQuery: /account/v1/balance?x=1 (no host)
// body: json string (empty if none)
func (s *Signer) GenerateHeaders(method, pathWithQuery, body string) map[string]string {
	// DMarket expects a unix timestamp in seconds
	nonce := strconv.FormatInt(s.now().Unix(), 10)

	payload := method + pathWithQuery + body + nonce
	sign := hex.EncodeToString(ed25519.Sign(s.key, []byte(payload)))

	return map[string]string{
		"X-Api-Key":      s.publicKey,
		"X-Request-Sign": signaturePrefix + sign,
		"X-Sign-Date":    nonce,
		"Content-Type":   "application/json",
	}
}
