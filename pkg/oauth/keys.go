package oauth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each derived key is independent of the others.
const (
	PurposeStateSigning = "state-signing"
	PurposeCookieHash   = "cookie-hash"
	PurposeCookieCrypt  = "cookie-encryption"
)

// derivedKeyLen is the length of every derived key.
const derivedKeyLen = 32

// DeriveKey expands the configured secret into a key dedicated to purpose.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret is empty")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte("touch-grass/"+purpose))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}
