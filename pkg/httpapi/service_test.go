package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceStatus(t *testing.T) {
	srv := NewServer(testEngine(t))

	req := httptest.NewRequest("GET", "/service/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
}

func TestServiceChallengeIssuesNonceAndDifficulty(t *testing.T) {
	srv := NewServer(testEngine(t))

	req := httptest.NewRequest("GET", "/service/challenge", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var body struct {
		Nonce      string `json:"nonce"`
		Difficulty uint   `json:"difficulty"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Nonce)
	assert.Equal(t, uint(8), body.Difficulty)
}

func TestHandleRequestRejectsMissingSignature(t *testing.T) {
	srv := NewServer(testEngine(t))

	req := httptest.NewRequest("POST", "/service/requests", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, 401, rec.Code)
	assert.Equal(t, `Signature realm="dedi-link"`, rec.Header().Get("WWW-Authenticate"))
}

func TestVisibleNetworksEmptyByDefault(t *testing.T) {
	srv := NewServer(testEngine(t))

	req := httptest.NewRequest("GET", "/service/networks", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var out []visibleNetworkBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out)
}
