// Package sync keeps each network's member list and data index
// eventually consistent by broadcasting this node's view on a
// 24h(+/-5min jittered) ticker and reconciling what peers report back,
// the way pkg/reconciler drives its own ticker/select loop.
package sync

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meshfed/gatewayd/pkg/log"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/storage"
	"github.com/meshfed/gatewayd/pkg/types"
)

// Interval is the baseline cadence sync_known_nodes/sync_data_index run
// at, per network.
const Interval = 24 * time.Hour

// JitterWindow is the +/- window applied once, at startup, to the first
// tick only.
const JitterWindow = 5 * time.Minute

// Broadcaster sends raw envelope bytes to every peer with a cached route
// in a network.
type Broadcaster interface {
	Broadcast(networkID string, raw []byte) (int, error)
}

// Requester sends a point-to-point request to one node and returns the
// envelope body bytes of the (synchronous) SyncResponse.
type Requester interface {
	Request(ctx context.Context, networkID string, node *types.Node, envelope *message.Envelope) ([]byte, error)
}

type nodeSummary struct {
	NodeID string `json:"nodeId"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

type syncNodeBody struct {
	Nodes []nodeSummary `json:"nodes"`
}

type syncIndexBody struct {
	DataIndex map[string]string `json:"dataIndex"`
}

type syncRequestBody struct {
	Kind string `json:"kind"` // "INSTANCE"
}

// Syncer runs the periodic node-list and data-index reconciliation for
// every locally known network.
type Syncer struct {
	store       storage.Store
	broadcaster Broadcaster
	requester   Requester
	selfID      string

	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// New builds a Syncer.
func New(store storage.Store, broadcaster Broadcaster, requester Requester, selfID string) *Syncer {
	return &Syncer{
		store:       store,
		broadcaster: broadcaster,
		requester:   requester,
		selfID:      selfID,
		logger:      log.WithComponent("sync"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the jittered 24h loop in the background.
func (s *Syncer) Start() {
	go s.run()
}

// Stop ends the loop.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Syncer) run() {
	jitter := time.Duration(rand.Int63n(int64(2*JitterWindow))) - JitterWindow
	firstTick := Interval + jitter

	timer := time.NewTimer(firstTick)
	defer timer.Stop()

	s.logger.Info().Dur("first_tick", firstTick).Msg("sync loop started")

	for {
		select {
		case <-timer.C:
			s.runCycle()
			timer.Reset(Interval)
		case <-s.stopCh:
			s.logger.Info().Msg("sync loop stopped")
			return
		}
	}
}

func (s *Syncer) runCycle() {
	networks, err := s.store.ListNetworks()
	if err != nil {
		s.logger.Error().Err(err).Msg("list networks failed")
		return
	}
	for _, network := range networks {
		if err := s.SyncKnownNodes(network.NetworkID); err != nil {
			s.logger.Error().Err(err).Str("network_id", network.NetworkID).Msg("sync_known_nodes failed")
		}
		if err := s.SyncDataIndex(network.NetworkID); err != nil {
			s.logger.Error().Err(err).Str("network_id", network.NetworkID).Msg("sync_data_index failed")
		}
	}
}

// SyncKnownNodes constructs a member list (minus data_index/approved) plus
// self, and broadcasts it as SyncNode.
func (s *Syncer) SyncKnownNodes(networkID string) error {
	nodes, err := s.store.ListNodes(networkID)
	if err != nil {
		return err
	}
	network, err := s.store.GetNetwork(networkID)
	if err != nil {
		return err
	}

	summaries := make([]nodeSummary, 0, len(nodes)+1)
	for _, n := range nodes {
		summaries = append(summaries, nodeSummary{NodeID: n.NodeID, Name: n.Name, URL: n.URL})
	}
	summaries = append(summaries, nodeSummary{NodeID: network.InstanceID, URL: s.selfID})

	env, err := message.NewEnvelope("dedi-link.SyncNode", types.MessageMetadata{NetworkID: networkID, NodeID: network.InstanceID, MessageID: uuid.NewString(), Timestamp: time.Now()}, syncNodeBody{Nodes: summaries})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.broadcaster.Broadcast(networkID, raw)
	return err
}

// HandleSyncNode reconciles one peer-reported node list against local
// state, per the equal/differs/unknown rules.
func (s *Syncer) HandleSyncNode(ctx context.Context, networkID, senderID string, body syncNodeBody) error {
	for _, reported := range body.Nodes {
		existing, err := s.store.GetNode(networkID, reported.NodeID)
		if err != nil {
			if err := s.store.CreateNode(networkID, &types.Node{NodeID: reported.NodeID, Name: reported.Name, URL: reported.URL, Approved: false, DataIndex: map[string]string{}}); err != nil {
				s.logger.Error().Err(err).Str("node_id", reported.NodeID).Msg("create unknown node failed")
			}
			continue
		}

		if existing.Name == reported.Name && existing.URL == reported.URL {
			continue
		}

		if reported.NodeID == senderID {
			existing.Name = reported.Name
			existing.URL = reported.URL
			if err := s.store.UpdateNode(networkID, existing); err != nil {
				s.logger.Error().Err(err).Str("node_id", reported.NodeID).Msg("overwrite self-reported node failed")
			}
			continue
		}

		if s.requester == nil {
			continue
		}
		reqEnv, err := message.NewEnvelope("dedi-link.SyncRequest", types.MessageMetadata{NetworkID: networkID, NodeID: s.selfID, MessageID: uuid.NewString(), Timestamp: time.Now()}, syncRequestBody{Kind: "INSTANCE"})
		if err != nil {
			continue
		}
		respRaw, err := s.requester.Request(ctx, networkID, &types.Node{NodeID: reported.NodeID, URL: reported.URL}, reqEnv)
		if err != nil {
			s.logger.Warn().Err(err).Str("node_id", reported.NodeID).Msg("sync request failed")
			continue
		}
		var fresh nodeSummary
		if json.Unmarshal(respRaw, &fresh) == nil {
			existing.Name = fresh.Name
			existing.URL = fresh.URL
			if err := s.store.UpdateNode(networkID, existing); err != nil {
				s.logger.Error().Err(err).Str("node_id", reported.NodeID).Msg("replace node from sync response failed")
			}
		}
	}
	return nil
}

// SyncDataIndex broadcasts this node's local data index as SyncIndex.
func (s *Syncer) SyncDataIndex(networkID string) error {
	network, err := s.store.GetNetwork(networkID)
	if err != nil {
		return err
	}
	index, err := s.store.GetDataIndex(networkID, network.InstanceID)
	if err != nil {
		return err
	}

	env, err := message.NewEnvelope("dedi-link.SyncIndex", types.MessageMetadata{NetworkID: networkID, NodeID: network.InstanceID, MessageID: uuid.NewString(), Timestamp: time.Now()}, syncIndexBody{DataIndex: index})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.broadcaster.Broadcast(networkID, raw)
	return err
}

// HandleSyncIndex replaces the sender node's data_index with what it reported.
func (s *Syncer) HandleSyncIndex(networkID, senderID string, body syncIndexBody) error {
	return s.store.SaveDataIndex(networkID, senderID, body.DataIndex)
}

// HandleSyncNodeEnvelope decodes and handles an inbound SyncNode envelope.
func (s *Syncer) HandleSyncNodeEnvelope(ctx context.Context, env *message.Envelope) error {
	var body syncNodeBody
	if err := env.Decode(&body); err != nil {
		return err
	}
	return s.HandleSyncNode(ctx, env.Metadata.NetworkID, env.Metadata.NodeID, body)
}

// HandleSyncIndexEnvelope decodes and handles an inbound SyncIndex envelope.
func (s *Syncer) HandleSyncIndexEnvelope(env *message.Envelope) error {
	var body syncIndexBody
	if err := env.Decode(&body); err != nil {
		return err
	}
	return s.HandleSyncIndex(env.Metadata.NetworkID, env.Metadata.NodeID, body)
}

// HandleSyncRequestEnvelope answers an inbound SyncRequest{INSTANCE} with
// this node's own summary as a SyncResponse, echoing the request's
// message id so the requester's Requester.Request call correlates it.
func (s *Syncer) HandleSyncRequestEnvelope(env *message.Envelope) (*message.Envelope, error) {
	var body syncRequestBody
	if err := env.Decode(&body); err != nil {
		return nil, err
	}
	network, err := s.store.GetNetwork(env.Metadata.NetworkID)
	if err != nil {
		return nil, err
	}
	self := nodeSummary{NodeID: network.InstanceID, Name: network.Name, URL: s.selfID}
	return message.NewEnvelope("dedi-link.SyncResponse", types.MessageMetadata{NetworkID: env.Metadata.NetworkID, NodeID: network.InstanceID, MessageID: env.Metadata.MessageID, Timestamp: time.Now()}, self)
}
