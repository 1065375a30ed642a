package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRequestsEmpty(t *testing.T) {
	srv := NewServer(testEngine(t))

	req := httptest.NewRequest("GET", "/manage/requests", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var out []admissionRecordBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out)
}

func TestSendMessageBroadcastWithNoPeersDeliversZero(t *testing.T) {
	srv := NewServer(testEngine(t))

	env, _ := json.Marshal(map[string]interface{}{
		"messageType": "dedi-link.Custom",
		"metadata":    map[string]string{"networkId": "net-1"},
		"body":        map[string]string{},
	})
	reqBody, _ := json.Marshal(sendMessageRequest{Message: env, Broadcast: true})

	req := httptest.NewRequest("POST", "/manage/messages", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var out sendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 0, out.DeliveredCount)
	assert.Empty(t, out.Responses)
}

func TestDecideRequestNotFound(t *testing.T) {
	srv := NewServer(testEngine(t))

	body, _ := json.Marshal(decideRequestBody{Approve: true})
	req := httptest.NewRequest("PATCH", "/manage/requests/does-not-exist", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}
