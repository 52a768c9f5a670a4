package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/viewer"
)

// ErrNoToken is returned by ParseBearer when the request carries no bearer token.
var ErrNoToken = errors.New("no bearer token")

// IdentityMiddleware resolves the viewer from an HS256 bearer token issued by the auth
// provider. Public endpoints never reject: a missing or invalid token means anonymous.
type IdentityMiddleware struct {
	secret []byte
	logger *observability.Logger
}

// NewIdentityMiddleware creates the middleware. With an empty secret every request is
// treated as anonymous.
func NewIdentityMiddleware(secret string, logger *observability.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{
		secret: []byte(secret),
		logger: logger,
	}
}

// Handler wraps an HTTP handler and stores the resolved viewer in the request context
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := viewer.Anonymous()

		userID, err := m.ParseBearer(r.Header.Get("Authorization"))
		switch {
		case err == nil:
			v = viewer.Authenticated(userID)
		case !errors.Is(err, ErrNoToken):
			m.logger.WithError(err).Debug("ignoring invalid bearer token")
		}

		next.ServeHTTP(w, r.WithContext(viewer.WithViewer(r.Context(), v)))
	})
}

// ParseBearer validates an "Authorization: Bearer <jwt>" header value and returns the
// token subject.
func (m *IdentityMiddleware) ParseBearer(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return "", ErrNoToken
	}
	if len(m.secret) == 0 {
		return "", errors.New("identity verification disabled")
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

// IssueToken signs a token for userID. The auth provider owns issuance in production;
// this exists for the CLI and tests.
func IssueToken(secret, userID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
