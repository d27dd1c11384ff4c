// Package secret encrypts and decrypts stored account passwords with Fernet
// tokens.
package secret

import (
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNoKey is returned when no encryption key is configured.
var ErrNoKey = eris.New("secret: no encryption key configured")

// noExpiry disables token age verification. Stored passwords never expire.
const noExpiry time.Duration = -1

// Cipher decrypts and encrypts passwords. The first key encrypts; every key
// is tried when decrypting, which allows key rotation.
type Cipher struct {
	keys []*fernet.Key
}

// New creates a Cipher from base64url-encoded Fernet keys. Empty keys are
// ignored.
func New(keys ...string) (*Cipher, error) {
	var encoded []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			encoded = append(encoded, k)
		}
	}
	if len(encoded) == 0 {
		return nil, ErrNoKey
	}
	decoded, err := fernet.DecodeKeys(encoded...)
	if err != nil {
		return nil, eris.Wrap(err, "secret: decode keys")
	}
	return &Cipher{keys: decoded}, nil
}

// GenerateKey returns a new encoded Fernet key.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", eris.Wrap(err, "secret: generate key")
	}
	return k.Encode(), nil
}

// Encrypt returns a Fernet token for plain. An empty input stays empty.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plain), c.keys[0])
	if err != nil {
		return "", eris.Wrap(err, "secret: encrypt")
	}
	return string(tok), nil
}

// Decrypt returns the plaintext of value. Values that are not valid tokens
// for any configured key are legacy plaintext rows and are returned
// unchanged.
func (c *Cipher) Decrypt(value string) string {
	if value == "" {
		return ""
	}
	if msg := fernet.VerifyAndDecrypt([]byte(value), noExpiry, c.keys); msg != nil {
		return string(msg)
	}
	zap.L().Warn("secret: value is not a valid token, using it as plaintext")
	return value
}
