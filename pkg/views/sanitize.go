package views

import (
	"encoding/hex"
	"html"
	"net"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/blake2b"
)

// MaxUserAgentLength caps the stored user agent, in runes.
const MaxUserAgentLength = 512

// IPHasher derives a one-way keyed digest from a client IP.
type IPHasher struct {
	key [32]byte
}

// NewIPHasher creates a hasher keyed by secret. Secrets of any length are accepted.
func NewIPHasher(secret string) *IPHasher {
	return &IPHasher{key: blake2b.Sum256([]byte(secret))}
}

// Hash returns the hex digest of ip, or "" when ip is empty. Parseable addresses are
// canonicalized first so "::ffff:1.2.3.4" and "1.2.3.4" hash alike.
func (h *IPHasher) Hash(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		ip = parsed.String()
	}

	mac, err := blake2b.New256(h.key[:])
	if err != nil {
		// only reachable with a key over 64 bytes
		panic(err)
	}
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

var uaPolicy = bluemonday.StrictPolicy()

// SanitizeUserAgent strips markup and control characters and truncates the result.
func SanitizeUserAgent(ua string) string {
	clean := html.UnescapeString(uaPolicy.Sanitize(ua))
	clean = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, clean)
	clean = strings.TrimSpace(clean)

	if runes := []rune(clean); len(runes) > MaxUserAgentLength {
		clean = string(runes[:MaxUserAgentLength])
	}
	return clean
}
