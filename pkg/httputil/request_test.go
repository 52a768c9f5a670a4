package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordBody struct {
	ProfileUserID string  `json:"profileUserId"`
	ViewerUserID  *string `json:"viewerUserId"`
}

func TestParseJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"profileUserId":"alesta","viewerUserId":null}`))

	var body recordBody
	require.NoError(t, ParseJSON(req, &body))
	assert.Equal(t, "alesta", body.ProfileUserID)
	assert.Nil(t, body.ViewerUserID)
}

func TestParseJSON_Invalid(t *testing.T) {
	for _, raw := range []string{"", "{", "not json"} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		var body recordBody
		assert.Error(t, ParseJSON(req, &body), raw)
	}
}

func TestParseJSONOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	w := httptest.NewRecorder()

	var body recordBody
	assert.False(t, ParseJSONOrError(w, req, &body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "alesta"})
	id, err := ParsePathString(req, "id")
	require.NoError(t, err)
	assert.Equal(t, "alesta", id)

	_, err = ParsePathString(req, "missing")
	assert.Error(t, err)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "missing")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&tz=Europe/Paris&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	def, err := ParseQueryInt(req, "absent", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, def)

	_, err = ParseQueryInt(req, "bad", 10)
	assert.Error(t, err)

	assert.Equal(t, "Europe/Paris", ParseQueryString(req, "tz", "UTC"))
	assert.Equal(t, "UTC", ParseQueryString(req, "zone", "UTC"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
