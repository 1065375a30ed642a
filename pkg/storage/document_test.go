package storage

import (
	"os"
	"testing"

	"github.com/meshfed/gatewayd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDocument(t *testing.T) *Document {
	t.Helper()
	dir, err := os.MkdirTemp("", "gatewayd-storage-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := NewDocument(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDocumentNetworkCRUD(t *testing.T) {
	s := newTestDocument(t)

	net := &types.Network{NetworkID: "net-1", Name: "prod"}
	require.NoError(t, s.CreateNetwork(net))
	assert.ErrorIs(t, s.CreateNetwork(net), ErrAlreadyExists)

	got, err := s.GetNetwork("net-1")
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Name)

	require.NoError(t, s.DeleteNetwork("net-1"))
	_, err = s.GetNetwork("net-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentNodeListScopedByNetworkPrefix(t *testing.T) {
	s := newTestDocument(t)

	require.NoError(t, s.CreateNode("net-1", &types.Node{NodeID: "node-a"}))
	require.NoError(t, s.CreateNode("net-1", &types.Node{NodeID: "node-b"}))
	require.NoError(t, s.CreateNode("net-10", &types.Node{NodeID: "node-a"}))

	nodes, err := s.ListNodes("net-1")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestDocumentDataIndexRoundTrip(t *testing.T) {
	s := newTestDocument(t)

	require.NoError(t, s.SaveDataIndex("net-1", "node-a", map[string]string{"region": "us-east"}))
	idx, err := s.GetDataIndex("net-1", "node-a")
	require.NoError(t, err)
	assert.Equal(t, "us-east", idx["region"])
}
