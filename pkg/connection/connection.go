// Package connection maintains exactly one live transport to each
// approved peer in each network, driving the
// detached → probing → ws_up ⇄ ws_retry → sse_up ⇄ sse_retry →
// relay_request → proxied|unreachable state machine and exposing
// send/broadcast over whichever transport is current.
package connection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/meshfed/gatewayd/pkg/broker"
	"github.com/meshfed/gatewayd/pkg/kms"
	"github.com/meshfed/gatewayd/pkg/log"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/routecache"
	"github.com/meshfed/gatewayd/pkg/transport"
	"github.com/meshfed/gatewayd/pkg/types"
)

// ErrNodeNotConnected is returned by Send when the route cache has no
// entry for the destination peer.
var ErrNodeNotConnected = errors.New("connection: node not connected")

// ErrNodeNotApproved is returned when a caller asks to address a node
// that storage knows about but has never been admitted.
var ErrNodeNotApproved = errors.New("connection: node not approved")

// ErrMessageAuthentication is returned when an inbound application
// envelope fails signature verification against its sender's stored key.
var ErrMessageAuthentication = errors.New("connection: message authentication failed")

// RetryBudget bounds how long ws_retry/sse_retry keep re-attempting
// before falling to the next transport.
const RetryBudget = 60 * time.Second

// PongWait bounds how long the send loop waits for a pong before
// closing the socket.
const PongWait = 10 * time.Second

// proxyCollectionWindow bounds how long relayRequest waits for
// RouteRequest responses before choosing the best chain seen so far.
const proxyCollectionWindow = 5 * time.Second

// Dispatcher authenticates-adjacent routing for one inbound application
// envelope: given the already-authenticated envelope, it runs whatever
// protocol or catalog handling applies and returns the reply envelope to
// send back to the sender, or nil if the message needs no reply. Set
// post-construction via SetDispatcher so pkg/engine — the only place
// that knows about pkg/routing, pkg/sync, and the message registry all
// at once — can supply it without pkg/connection importing any of them.
type Dispatcher interface {
	Dispatch(ctx context.Context, networkID string, env *message.Envelope) (*message.Envelope, error)
}

// NodeKeyLookup resolves an approved peer's stored node record, used to
// authenticate inbound application messages against the public key
// recorded for them at admission time (distinct from the
// trust-on-first-use check pkg/admission performs during the handshake
// itself, where no stored key exists yet).
type NodeKeyLookup interface {
	GetNode(networkID, nodeID string) (*types.Node, error)
}

// Manager owns route establishment and message delivery for all
// approved peers across all networks.
type Manager struct {
	routes    *routecache.Cache
	brk       broker.Broker
	transport *transport.Transport
	signer    transport.Signer
	registry  *message.Registry
	nodes     NodeKeyLookup
	selfID    string

	logger zerolog.Logger

	mu         sync.Mutex
	stopCh     map[string]chan struct{} // keyed by "networkID/nodeID", closed to stop a peer's loops
	dispatcher Dispatcher
}

// New builds a connection Manager.
func New(routes *routecache.Cache, brk broker.Broker, tr *transport.Transport, signer transport.Signer, registry *message.Registry, nodes NodeKeyLookup, selfID string) *Manager {
	return &Manager{
		routes:    routes,
		brk:       brk,
		transport: tr,
		signer:    signer,
		registry:  registry,
		nodes:     nodes,
		selfID:    selfID,
		logger:    log.WithComponent("connection"),
		stopCh:    make(map[string]chan struct{}),
	}
}

// SetDispatcher installs the post-authentication hook used to route
// inbound application envelopes. Must be called before any connection is
// established; inbound traffic arriving before it is set is dropped.
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatcher = d
}

func peerKey(networkID, nodeID string) string { return networkID + "/" + nodeID }

// Establish runs the probing → ws_up/sse_up/relay_request transitions
// for node. A no-op if the route cache already has an entry.
func (m *Manager) Establish(ctx context.Context, networkID string, node *types.Node, selfKey string) error {
	if _, ok := m.routes.Get(networkID, node.NodeID); ok {
		return nil
	}

	deadline := time.Now().Add(RetryBudget)
	for time.Now().Before(deadline) {
		ok, err := m.transport.CheckConnectivity(ctx, node.URL)
		if err == nil && ok {
			if err := m.openWebsocket(ctx, networkID, node, selfKey); err == nil {
				return nil
			}
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	deadline = time.Now().Add(RetryBudget)
	for time.Now().Before(deadline) {
		if err := m.openSSE(ctx, networkID, node, selfKey); err == nil {
			return nil
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return m.relayRequest(ctx, networkID, node)
}

func (m *Manager) authConnectEnvelope(networkID, selfKey string) ([]byte, string, error) {
	env, err := message.NewEnvelope("dedi-link.AuthConnect", types.MessageMetadata{NetworkID: networkID, NodeID: m.selfID}, map[string]string{})
	if err != nil {
		return nil, "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, "", err
	}
	sig, err := m.signer.Sign(selfKey, raw)
	if err != nil {
		return nil, "", err
	}
	return raw, sig, nil
}

func wsURL(nodeURL string) string {
	if len(nodeURL) >= 5 && nodeURL[:5] == "https" {
		return "wss" + nodeURL[5:] + "/service/websocket"
	}
	return "ws" + nodeURL[len("http"):] + "/service/websocket"
}

// openWebsocket dials node's websocket endpoint, sends the signed
// AuthConnect frame, publishes a direct/websocket/outbound route, and
// starts the send/receive loops.
func (m *Manager) openWebsocket(ctx context.Context, networkID string, node *types.Node, selfKey string) error {
	raw, sig, err := m.authConnectEnvelope(networkID, selfKey)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(node.URL), nil)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(map[string]interface{}{"message": json.RawMessage(raw), "signature": sig}); err != nil {
		conn.Close()
		return err
	}

	m.routes.Save(&types.Route{NetworkID: networkID, NodeID: node.NodeID, Connectivity: types.ConnectivityDirect, Transport: types.TransportWebsocket, Outbound: true})

	stop := make(chan struct{})
	m.mu.Lock()
	m.stopCh[peerKey(networkID, node.NodeID)] = stop
	m.mu.Unlock()

	go m.wsSendLoop(conn, networkID, node.NodeID, stop)
	go m.wsReceiveLoop(conn, networkID, node.NodeID, stop)
	return nil
}

// wsSendLoop pulls from this peer's outbound mailbox and forwards each
// envelope, heartbeating with ping/pong when idle.
func (m *Manager) wsSendLoop(conn *websocket.Conn, networkID, nodeID string, stop chan struct{}) {
	defer conn.Close()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}

		raw, err := m.brk.Get(ctx, networkID, nodeID, time.Second)
		if err == nil {
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				m.logger.Warn().Err(err).Str("network_id", networkID).Str("node_id", nodeID).Msg("websocket send failed")
				m.routes.Delete(networkID, nodeID)
				return
			}
			continue
		}
		if !errors.Is(err, broker.ErrTimeout) {
			m.routes.Delete(networkID, nodeID)
			return
		}

		if err := conn.WriteJSON(map[string]bool{"ping": true}); err != nil {
			m.routes.Delete(networkID, nodeID)
			return
		}
		conn.SetReadDeadline(time.Now().Add(PongWait))
	}
}

// wsReceiveLoop parses inbound frames: {ping} gets a {pong} reply;
// everything else is authenticated and handed to process, with any
// reply written back over the same connection.
func (m *Manager) wsReceiveLoop(conn *websocket.Conn, networkID, nodeID string, stop chan struct{}) {
	defer close(stop)
	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.routes.Delete(networkID, nodeID)
			return
		}
		var frame map[string]json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if _, ok := frame["ping"]; ok {
			conn.WriteJSON(map[string]bool{"pong": true})
			continue
		}
		if _, ok := frame["pong"]; ok {
			continue
		}
		if reply := m.handleInboundEnvelope(ctx, networkID, frame); reply != nil {
			conn.WriteMessage(websocket.TextMessage, reply)
		}
	}
}

// handleInboundEnvelope authenticates and dispatches one {message,
// signature} frame. Authentication failures reply with an error frame
// rather than closing the connection; frame is otherwise handed to the
// installed Dispatcher, whose reply (if any) is signed and framed the
// same way before being returned to the caller to write back.
func (m *Manager) handleInboundEnvelope(ctx context.Context, networkID string, frame map[string]json.RawMessage) []byte {
	rawMsg, ok := frame["message"]
	if !ok {
		return m.errorFrame("", "missing message")
	}
	var sigStr string
	if sigRaw, ok := frame["signature"]; ok {
		json.Unmarshal(sigRaw, &sigStr)
	}

	var env message.Envelope
	if err := json.Unmarshal(rawMsg, &env); err != nil {
		m.logger.Warn().Err(err).Str("network_id", networkID).Msg("malformed inbound envelope")
		return m.errorFrame("", "malformed envelope")
	}

	if err := m.authenticateNetworkMessage(networkID, env.Metadata.NodeID, rawMsg, sigStr); err != nil {
		m.logger.Warn().Err(err).Str("network_id", networkID).Str("node_id", env.Metadata.NodeID).Msg("inbound message authentication failed")
		return m.errorFrame(env.Metadata.MessageID, err.Error())
	}

	m.mu.Lock()
	dispatcher := m.dispatcher
	m.mu.Unlock()
	if dispatcher == nil {
		m.logger.Warn().Str("message_type", env.MessageType).Msg("no dispatcher installed, dropping envelope")
		return nil
	}

	reply, err := dispatcher.Dispatch(ctx, networkID, &env)
	if err != nil {
		m.logger.Warn().Err(err).Str("message_type", env.MessageType).Msg("dispatch failed")
		return m.errorFrame(env.Metadata.MessageID, err.Error())
	}
	if reply == nil {
		return nil
	}
	replyRaw, err := json.Marshal(reply)
	if err != nil {
		m.logger.Warn().Err(err).Msg("marshal reply failed")
		return nil
	}
	replyFrame, err := m.signedFrame(networkID, replyRaw)
	if err != nil {
		m.logger.Warn().Err(err).Msg("sign reply failed")
		return nil
	}
	return replyFrame
}

// authenticateNetworkMessage implements authenticate_network_message:
// the sender must already be an approved node in this network, and the
// signature must verify against its stored public key.
func (m *Manager) authenticateNetworkMessage(networkID, nodeID string, payload []byte, signatureB64 string) error {
	node, err := m.nodes.GetNode(networkID, nodeID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNodeNotApproved, err)
	}
	if !node.Approved {
		return ErrNodeNotApproved
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMessageAuthentication, err)
	}
	if err := kms.VerifyPEM(node.PublicKey, payload, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrMessageAuthentication, err)
	}
	return nil
}

func (m *Manager) errorFrame(messageID, reason string) []byte {
	out, _ := json.Marshal(map[string]interface{}{"error": reason, "messageId": messageID})
	return out
}

// openSSE opens a POST stream to /service/event carrying the same
// AuthConnect body, publishing a direct/sse/outbound route.
func (m *Manager) openSSE(ctx context.Context, networkID string, node *types.Node, selfKey string) error {
	raw, sig, err := m.authConnectEnvelope(networkID, selfKey)
	if err != nil {
		return err
	}
	lines, err := m.transport.Stream(ctx, node.URL+"/service/event", json.RawMessage(raw), map[string]string{"Message-Signature": sig})
	if err != nil {
		return err
	}
	m.routes.Save(&types.Route{NetworkID: networkID, NodeID: node.NodeID, Connectivity: types.ConnectivityDirect, Transport: types.TransportSSE, Outbound: true})

	go func() {
		for range lines {
		}
		m.routes.Delete(networkID, node.NodeID)
	}()
	return nil
}

// relayRequest broadcasts a RouteRequest and adopts the shortest
// non-empty proxy chain offered in response within the collection window.
func (m *Manager) relayRequest(ctx context.Context, networkID string, node *types.Node) error {
	messageID := networkID + ":" + node.NodeID
	env, err := message.NewEnvelope("dedi-link.RouteRequest", types.MessageMetadata{NetworkID: networkID, NodeID: m.selfID, MessageID: messageID}, map[string]string{"target": node.NodeID})
	if err != nil {
		return err
	}
	raw, _ := json.Marshal(env)
	if _, err := m.Broadcast(networkID, raw); err != nil {
		return err
	}

	deadline := time.Now().Add(proxyCollectionWindow)
	var best []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		resp, err := m.brk.ResponseStream(ctx, messageID, remaining)
		if err != nil {
			break
		}
		var body struct {
			Route []string `json:"route"`
		}
		if json.Unmarshal(resp, &body) == nil && len(body.Route) > 0 {
			if best == nil || len(body.Route) < len(best) {
				best = body.Route
			}
		}
	}

	if best == nil {
		return fmt.Errorf("%w: no proxy chain for %s", transport.ErrNetworkRequestFailed, node.NodeID)
	}
	m.routes.Save(&types.Route{NetworkID: networkID, NodeID: node.NodeID, Connectivity: types.ConnectivityProxy, Transport: types.TransportWebsocket, Outbound: true, ProxyChain: best})
	return nil
}

// signedFrame signs raw with keyID's node key and wraps it as the
// {message, signature} shape every transport's receive side expects.
func (m *Manager) signedFrame(keyID string, raw []byte) ([]byte, error) {
	sig, err := m.signer.Sign(keyID, raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{"message": json.RawMessage(raw), "signature": sig})
}

// Send delivers raw to node over whichever transport its current route names.
func (m *Manager) Send(networkID string, node *types.Node, raw []byte) error {
	route, ok := m.routes.Get(networkID, node.NodeID)
	if !ok {
		return ErrNodeNotConnected
	}
	ctx := context.Background()

	switch {
	case route.Connectivity == types.ConnectivityDirect && route.Transport == types.TransportWebsocket:
		frame, err := m.signedFrame(networkID, raw)
		if err != nil {
			return err
		}
		return m.brk.Publish(ctx, networkID, node.NodeID, frame)
	case route.Connectivity == types.ConnectivityDirect && route.Transport == types.TransportSSE && !route.Outbound:
		frame, err := m.signedFrame(networkID, raw)
		if err != nil {
			return err
		}
		return m.brk.Publish(ctx, networkID, node.NodeID, frame)
	case route.Connectivity == types.ConnectivityDirect && route.Transport == types.TransportSSE && route.Outbound:
		_, err := m.transport.PostMessage(ctx, json.RawMessage(raw), node.URL+"/service/message", networkID, m.signer)
		return err
	case route.Connectivity == types.ConnectivityProxy:
		frame, err := m.signedFrame(networkID, raw)
		if err != nil {
			return err
		}
		wrapped, err := json.Marshal(map[string]interface{}{"proxyChain": route.ProxyChain, "body": json.RawMessage(frame)})
		if err != nil {
			return err
		}
		return m.brk.Publish(ctx, networkID, route.ProxyChain[0], wrapped)
	default:
		return ErrNodeNotConnected
	}
}

// Broadcast publishes raw to the mailbox of every peer with a cached
// route in networkID (approval is not checked here), ignoring per-peer
// failures, and returns the count delivered.
func (m *Manager) Broadcast(networkID string, raw []byte) (int, error) {
	routes := m.routes.List(networkID)
	if len(routes) == 0 {
		return 0, nil
	}
	count := 0
	ctx := context.Background()
	frame, err := m.signedFrame(networkID, raw)
	if err != nil {
		return 0, err
	}
	for _, route := range routes {
		if err := m.brk.Publish(ctx, networkID, route.NodeID, frame); err == nil {
			count++
		}
	}
	return count, nil
}

// Request implements sync.Requester (and is available to anything else
// needing a synchronous point-to-point exchange): it posts envelope
// straight to node's message endpoint, the way pkg/admission posts
// AuthRequest/AuthResponse directly rather than through an established
// route, and returns the reply envelope's body bytes.
func (m *Manager) Request(ctx context.Context, networkID string, node *types.Node, envelope *message.Envelope) ([]byte, error) {
	reply, err := m.transport.PostMessage(ctx, envelope, node.URL+"/service/message", networkID, m.signer)
	if err != nil {
		return nil, err
	}
	var frame struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(reply, &frame); err != nil || frame.Message == nil {
		return nil, fmt.Errorf("connection: malformed response from %s", node.URL)
	}
	var env message.Envelope
	if err := json.Unmarshal(frame.Message, &env); err != nil {
		return nil, err
	}
	return json.Marshal(env.Body)
}

// EnvelopeSender adapts Manager's raw-bytes Send/Broadcast to
// message.Sender, so pkg/httpapi's POST /manage/messages handler can
// deliver a catalog envelope without marshalling it itself.
type EnvelopeSender struct {
	Manager *Manager
}

// Send marshals envelope and delivers it to node over its cached route.
func (s EnvelopeSender) Send(envelope *message.Envelope, node *types.Node) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.Manager.Send(envelope.Metadata.NetworkID, node, raw)
}

// Broadcast marshals envelope and publishes it to every peer in networkID.
func (s EnvelopeSender) Broadcast(envelope *message.Envelope, networkID string) (int, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return 0, err
	}
	return s.Manager.Broadcast(networkID, raw)
}
