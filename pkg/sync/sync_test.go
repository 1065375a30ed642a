package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/storage"
	"github.com/meshfed/gatewayd/pkg/types"
)

type fakeBroadcaster struct {
	lastRaw []byte
}

func (f *fakeBroadcaster) Broadcast(networkID string, raw []byte) (int, error) {
	f.lastRaw = raw
	return 1, nil
}

type fakeRequester struct {
	response []byte
}

func (f *fakeRequester) Request(ctx context.Context, networkID string, node *types.Node, envelope *message.Envelope) ([]byte, error) {
	return f.response, nil
}

func setupSyncer(t *testing.T, bc Broadcaster, req Requester) (*Syncer, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.CreateNetwork(&types.Network{NetworkID: "net-1", InstanceID: "self-instance"}))
	return New(store, bc, req, "self-instance"), store
}

func TestSyncKnownNodesBroadcastsSelfAndMembers(t *testing.T) {
	bc := &fakeBroadcaster{}
	s, store := setupSyncer(t, bc, nil)
	require.NoError(t, store.CreateNode("net-1", &types.Node{NodeID: "peer-1", Name: "peer", URL: "http://peer"}))

	require.NoError(t, s.SyncKnownNodes("net-1"))
	assert.Contains(t, string(bc.lastRaw), "peer-1")
	assert.Contains(t, string(bc.lastRaw), "self-instance")
}

func TestHandleSyncNodeInsertsUnknownNodeUnapproved(t *testing.T) {
	s, store := setupSyncer(t, &fakeBroadcaster{}, nil)

	body := syncNodeBody{Nodes: []nodeSummary{{NodeID: "new-node", Name: "new", URL: "http://new"}}}
	require.NoError(t, s.HandleSyncNode(context.Background(), "net-1", "sender", body))

	node, err := store.GetNode("net-1", "new-node")
	require.NoError(t, err)
	assert.False(t, node.Approved)
}

func TestHandleSyncNodeSelfReportedOverwritesFields(t *testing.T) {
	s, store := setupSyncer(t, &fakeBroadcaster{}, nil)
	require.NoError(t, store.CreateNode("net-1", &types.Node{NodeID: "peer-1", Name: "old", URL: "http://old", Approved: true}))

	body := syncNodeBody{Nodes: []nodeSummary{{NodeID: "peer-1", Name: "new-name", URL: "http://new"}}}
	require.NoError(t, s.HandleSyncNode(context.Background(), "net-1", "peer-1", body))

	node, err := store.GetNode("net-1", "peer-1")
	require.NoError(t, err)
	assert.Equal(t, "new-name", node.Name)
	assert.True(t, node.Approved, "approved flag must be preserved across overwrite")
}

func TestHandleSyncNodeEqualNodeIsNoop(t *testing.T) {
	s, store := setupSyncer(t, &fakeBroadcaster{}, nil)
	require.NoError(t, store.CreateNode("net-1", &types.Node{NodeID: "peer-1", Name: "same", URL: "http://same"}))

	body := syncNodeBody{Nodes: []nodeSummary{{NodeID: "peer-1", Name: "same", URL: "http://same"}}}
	require.NoError(t, s.HandleSyncNode(context.Background(), "net-1", "other-sender", body))

	node, err := store.GetNode("net-1", "peer-1")
	require.NoError(t, err)
	assert.Equal(t, "same", node.Name)
}

func TestHandleSyncNodeDifferingThirdPartyQueriesNodeDirectly(t *testing.T) {
	resp, _ := json.Marshal(nodeSummary{NodeID: "peer-1", Name: "fresh", URL: "http://fresh"})
	req := &fakeRequester{response: resp}
	s, store := setupSyncer(t, &fakeBroadcaster{}, req)
	require.NoError(t, store.CreateNode("net-1", &types.Node{NodeID: "peer-1", Name: "stale", URL: "http://stale", Approved: true}))

	body := syncNodeBody{Nodes: []nodeSummary{{NodeID: "peer-1", Name: "reported-different", URL: "http://other"}}}
	require.NoError(t, s.HandleSyncNode(context.Background(), "net-1", "third-party-sender", body))

	node, err := store.GetNode("net-1", "peer-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", node.Name)
	assert.True(t, node.Approved)
}

func TestSyncDataIndexBroadcastsLocalIndex(t *testing.T) {
	bc := &fakeBroadcaster{}
	s, store := setupSyncer(t, bc, nil)
	require.NoError(t, store.SaveDataIndex("net-1", "self-instance", map[string]string{"k": "v"}))

	require.NoError(t, s.SyncDataIndex("net-1"))
	assert.Contains(t, string(bc.lastRaw), `"k":"v"`)
}

func TestHandleSyncIndexReplacesSenderIndex(t *testing.T) {
	s, store := setupSyncer(t, &fakeBroadcaster{}, nil)

	require.NoError(t, s.HandleSyncIndex("net-1", "peer-1", syncIndexBody{DataIndex: map[string]string{"a": "1"}}))

	got, err := store.GetDataIndex("net-1", "peer-1")
	require.NoError(t, err)
	assert.Equal(t, "1", got["a"])
}
