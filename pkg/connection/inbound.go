package connection

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/meshfed/gatewayd/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebsocket upgrades the request, expects the first frame to be an
// AuthConnect {message, signature} envelope, publishes an inbound
// direct/websocket route for the node named in its metadata, then runs
// the same send/receive loop pair as an outbound connection. The first
// frame's signature is not verified.
func (m *Manager) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	var first struct {
		Message   json.RawMessage `json:"message"`
		Signature string          `json:"signature"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return
	}

	var envelope struct {
		Metadata types.MessageMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(first.Message, &envelope); err != nil {
		conn.Close()
		return
	}
	networkID := envelope.Metadata.NetworkID
	nodeID := envelope.Metadata.NodeID

	m.routes.Save(&types.Route{NetworkID: networkID, NodeID: nodeID, Connectivity: types.ConnectivityDirect, Transport: types.TransportWebsocket, Outbound: false})

	stop := make(chan struct{})
	m.mu.Lock()
	m.stopCh[peerKey(networkID, nodeID)] = stop
	m.mu.Unlock()

	go m.wsSendLoop(conn, networkID, nodeID, stop)
	m.wsReceiveLoop(conn, networkID, nodeID, stop)
}

// ServeEvent is the SSE fallback inbound endpoint: it streams this
// node's outbound mailbox for the node named in the POSTed metadata as
// `data:` frames plus periodic `event: ping` heartbeats, publishing a
// direct/sse inbound route for the duration of the stream. The request
// is not signature-checked.
func (m *Manager) ServeEvent(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var body struct {
		Metadata types.MessageMetadata `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	networkID := body.Metadata.NetworkID
	nodeID := body.Metadata.NodeID

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	m.routes.Save(&types.Route{NetworkID: networkID, NodeID: nodeID, Connectivity: types.ConnectivityDirect, Transport: types.TransportSSE, Outbound: false})
	defer m.routes.Delete(networkID, nodeID)

	ctx := r.Context()
	for {
		raw, err := m.brk.Get(ctx, networkID, nodeID, PongWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Write([]byte("event: ping\ndata: {}\n\n"))
			flusher.Flush()
			continue
		}
		w.Write([]byte("data: "))
		w.Write(raw)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// ServeMessage is the POST sibling of the SSE endpoint: a peer we are
// streaming to via SSE posts its messages here since SSE is
// unidirectional. It is also used directly for synchronous
// request/response exchanges (see Manager.Request), so any reply the
// dispatcher produces is written back as the HTTP response body.
func (m *Manager) ServeMessage(w http.ResponseWriter, r *http.Request) {
	var frame map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var envelope struct {
		Metadata types.MessageMetadata `json:"metadata"`
	}
	if raw, ok := frame["message"]; ok {
		json.Unmarshal(raw, &envelope)
	}
	reply := m.handleInboundEnvelope(r.Context(), envelope.Metadata.NetworkID, frame)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if reply != nil {
		w.Write(reply)
	}
}
