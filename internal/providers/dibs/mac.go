package dibs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
)

// Keys left out of the MAC message.
var unsignedKeys = []string{"custom_theme", "version"}

// Signer computes the DIBS HMAC over a payment's post data.
type Signer struct {
	key []byte
}

// NewSigner decodes the merchant's hex HMAC key.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: dibs hmac key is not hex: %v", domainErrors.ErrConfiguration, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: dibs hmac key is empty", domainErrors.ErrConfiguration)
	}
	return &Signer{key: key}, nil
}

// Sign returns the hex HMAC-SHA256 of the canonical form of postData.
func (s *Signer) Sign(postData string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(CanonicalMessage(postData)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalMessage parses postData, drops the unsigned keys and re-encodes
// the rest sorted by key. Pairs without "=" are skipped and values that fail
// to decode become empty. A repeated key keeps its last value.
func CanonicalMessage(postData string) string {
	values := url.Values{}
	for _, pair := range strings.Split(postData, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		decoded, err := url.QueryUnescape(v)
		if err != nil {
			decoded = ""
		}
		values.Set(k, decoded)
	}
	for _, k := range unsignedKeys {
		values.Del(k)
	}
	return values.Encode()
}
