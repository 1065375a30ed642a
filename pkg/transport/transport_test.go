package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConnectivityRejectsLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(2 * time.Second)
	ok, err := tr.CheckConnectivity(context.Background(), srv.URL)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSSRFBlocked)
}

func TestGetDecodesJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	tr := New(2 * time.Second)
	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, tr.Get(context.Background(), srv.URL, nil, &out))
	assert.Equal(t, "running", out.Status)
}

func TestPostReturnsNetworkRequestFailedOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := New(2 * time.Second)
	err := tr.Post(context.Background(), srv.URL, map[string]string{"a": "b"}, nil, nil)
	assert.ErrorIs(t, err, ErrNetworkRequestFailed)
}

func TestStreamStripsDataPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("data: one\n"))
		flusher.Flush()
		w.Write([]byte("data: two\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	tr := New(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lines, err := tr.Stream(ctx, srv.URL, map[string]string{}, nil)
	require.NoError(t, err)

	got := []string{}
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{" one", " two"}, got)
}

type stubSigner struct{}

func (stubSigner) Sign(keyID string, payload []byte) (string, error) {
	return "sig-" + keyID, nil
}

func TestPostMessageSendsSignedFrameAndReturnsBody(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"ack":true},"signature":"sig-reply"}`))
	}))
	defer srv.Close()

	tr := New(2 * time.Second)
	reply, err := tr.PostMessage(context.Background(), map[string]string{"hello": "world"}, srv.URL, "net-1", stubSigner{})
	require.NoError(t, err)

	var frame struct {
		Message   map[string]string `json:"message"`
		Signature string            `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &frame))
	assert.Equal(t, "world", frame.Message["hello"])
	assert.Equal(t, "sig-net-1", frame.Signature)
	assert.Contains(t, string(reply), `"ack":true`)
}
