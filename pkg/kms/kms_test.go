package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySignVerifyRoundTrip(t *testing.T) {
	m := NewMemory()
	_, err := m.Generate("node-1", NodeKeyBits)
	require.NoError(t, err)

	payload := []byte("route-request-42")
	sig, err := m.Sign("node-1", payload)
	require.NoError(t, err)

	assert.NoError(t, m.Verify("node-1", payload, sig))
}

func TestMemoryVerifyRejectsTamperedPayload(t *testing.T) {
	m := NewMemory()
	_, err := m.Generate("node-1", NodeKeyBits)
	require.NoError(t, err)

	sig, err := m.Sign("node-1", []byte("original"))
	require.NoError(t, err)

	assert.Error(t, m.Verify("node-1", []byte("tampered"), sig))
}

func TestMemoryVerifyUnknownKeyFails(t *testing.T) {
	m := NewMemory()
	err := m.Verify("missing", []byte("x"), []byte("y"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryRotateRetainsPreviousForVerification(t *testing.T) {
	m := NewMemory()
	_, err := m.Generate("node-1", NodeKeyBits)
	require.NoError(t, err)

	sigBeforeRotate, err := m.Sign("node-1", []byte("pre-rotation"))
	require.NoError(t, err)

	_, err = m.Rotate("node-1", NodeKeyBits)
	require.NoError(t, err)

	assert.NoError(t, m.Verify("node-1", []byte("pre-rotation"), sigBeforeRotate))

	sigAfterRotate, err := m.Sign("node-1", []byte("post-rotation"))
	require.NoError(t, err)
	assert.NoError(t, m.Verify("node-1", []byte("post-rotation"), sigAfterRotate))
}

type memoryBackend struct {
	data map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte)}
}

func (b *memoryBackend) Get(path string) ([]byte, error) {
	v, ok := b.data[path]
	if !ok {
		return nil, assert.AnError
	}
	return v, nil
}

func (b *memoryBackend) Put(path string, value []byte) error {
	b.data[path] = value
	return nil
}

func TestVaultSignVerifyRoundTripAcrossProcessCacheMiss(t *testing.T) {
	backend := newMemoryBackend()
	key := make([]byte, 32)
	v, err := NewVault(backend, key)
	require.NoError(t, err)

	_, err = v.Generate("node-1", NodeKeyBits)
	require.NoError(t, err)

	sig, err := v.Sign("node-1", []byte("payload"))
	require.NoError(t, err)

	// Force a cache miss to exercise the decrypt-from-backend path.
	v.cache = map[string]*Record{}
	assert.NoError(t, v.Verify("node-1", []byte("payload"), sig))
}
