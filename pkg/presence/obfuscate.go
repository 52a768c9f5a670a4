package presence

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// KeyObfuscator turns viewer keys into opaque per-topic tokens.
type KeyObfuscator struct {
	key [32]byte
}

// NewKeyObfuscator creates an obfuscator keyed by secret.
func NewKeyObfuscator(secret string) *KeyObfuscator {
	return &KeyObfuscator{key: blake2b.Sum256([]byte("presence:" + secret))}
}

// Token returns the token for viewerKey in topic. The same viewer gets unrelated
// tokens in different topics.
func (o *KeyObfuscator) Token(topic, viewerKey string) string {
	mac, _ := blake2b.New(16, o.key[:])
	mac.Write([]byte(topic))
	mac.Write([]byte{0})
	mac.Write([]byte(viewerKey))
	return hex.EncodeToString(mac.Sum(nil))
}
