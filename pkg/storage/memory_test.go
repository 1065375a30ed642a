package storage

import (
	"testing"

	"github.com/meshfed/gatewayd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNetworkCRUD(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	net := &types.Network{NetworkID: "net-1", Name: "prod"}
	require.NoError(t, s.CreateNetwork(net))

	assert.ErrorIs(t, s.CreateNetwork(net), ErrAlreadyExists)

	got, err := s.GetNetwork("net-1")
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Name)

	got.Name = "prod-renamed"
	require.NoError(t, s.UpdateNetwork(got))

	reloaded, err := s.GetNetwork("net-1")
	require.NoError(t, err)
	assert.Equal(t, "prod-renamed", reloaded.Name)

	require.NoError(t, s.DeleteNetwork("net-1"))
	_, err = s.GetNetwork("net-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryNodeScopedByNetwork(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.CreateNode("net-1", &types.Node{NodeID: "node-a"}))
	require.NoError(t, s.CreateNode("net-2", &types.Node{NodeID: "node-a"}))

	_, err := s.GetNode("net-1", "node-a")
	require.NoError(t, err)

	nodesNet1, err := s.ListNodes("net-1")
	require.NoError(t, err)
	assert.Len(t, nodesNet1, 1)

	_, err = s.GetNode("net-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDataIndexReturnsEmptyMapWhenUnset(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	idx, err := s.GetDataIndex("net-1", "node-a")
	require.NoError(t, err)
	assert.Empty(t, idx)

	require.NoError(t, s.SaveDataIndex("net-1", "node-a", map[string]string{"key": "value"}))
	idx, err = s.GetDataIndex("net-1", "node-a")
	require.NoError(t, err)
	assert.Equal(t, "value", idx["key"])
}

func TestMemoryMessageLifecycle(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	rec := &types.AdmissionRecord{MessageID: "msg-1", NetworkID: "net-1", Status: types.AdmissionPending}
	require.NoError(t, s.CreateMessage(rec))

	rec.Status = types.AdmissionAccepted
	require.NoError(t, s.UpdateMessage(rec))

	got, err := s.GetMessage("msg-1")
	require.NoError(t, err)
	assert.Equal(t, types.AdmissionAccepted, got.Status)

	require.NoError(t, s.DeleteMessage("msg-1"))
	_, err = s.GetMessage("msg-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUserMapping(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.CreateUser(&types.UserMapping{UserID: "u-1", NetworkID: "net-1", NodeID: "node-a"}))

	got, err := s.GetUser("net-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.NodeID)

	require.NoError(t, s.DeleteUser("net-1", "u-1"))
	_, err = s.GetUser("net-1", "u-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
