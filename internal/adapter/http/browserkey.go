package adapthttp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// keySigner issues browser keys of the form <uuid>.<base64url hmac-sha256>
// so that only keys minted by this server reach the guard registry.
type keySigner struct {
	secret []byte
}

func newKeySigner(secret []byte) *keySigner {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	return &keySigner{secret: secret}
}

// mint returns a fresh key and its signed cookie value.
func (k *keySigner) mint() (key, value string) {
	key = uuid.NewString()
	return key, key + "." + k.sign(key)
}

// verify returns the key carried by a signed cookie value.
func (k *keySigner) verify(value string) (string, bool) {
	key, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(key); err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(k.sign(key))) {
		return "", false
	}
	return key, true
}

func (k *keySigner) sign(key string) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(key))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
