package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/viewer"
)

const testSecret = "test-secret"

func captureViewer(m *IdentityMiddleware, authHeader string) viewer.Viewer {
	var got viewer.Viewer
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = viewer.FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestIdentityMiddleware_ValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, "alesta", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	m := NewIdentityMiddleware(testSecret, observability.NewNopLogger())
	v := captureViewer(m, "Bearer "+token)
	assert.True(t, v.IsAuthenticated())
	assert.Equal(t, "alesta", v.UserID)
}

func TestIdentityMiddleware_FallsBackToAnonymous(t *testing.T) {
	expired, err := IssueToken(testSecret, "alesta", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)
	wrongKey, err := IssueToken("other-secret", "alesta", jwt.RegisteredClaims{})
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	m := NewIdentityMiddleware(testSecret, observability.NewNopLogger())
	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"garbage":    "Bearer not-a-jwt",
		"expired":    "Bearer " + expired,
		"wrong key":  "Bearer " + wrongKey,
		"no subject": "Bearer " + noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, captureViewer(m, header).IsAuthenticated())
		})
	}
}

func TestIdentityMiddleware_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "alesta"}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	m := NewIdentityMiddleware(testSecret, observability.NewNopLogger())
	_, err = m.ParseBearer("Bearer " + token)
	assert.Error(t, err)
}

func TestIdentityMiddleware_NoSecretMeansAnonymous(t *testing.T) {
	token, err := IssueToken(testSecret, "alesta", jwt.RegisteredClaims{})
	require.NoError(t, err)

	m := NewIdentityMiddleware("", observability.NewNopLogger())
	assert.False(t, captureViewer(m, "Bearer "+token).IsAuthenticated())
}
