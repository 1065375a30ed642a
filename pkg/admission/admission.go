// Package admission implements the join/invite handshake between two
// gateways: a requester solves a proof-of-work challenge and presents
// itself, the target operator approves or rejects, and both sides
// persist the outcome as an AdmissionRecord.
package admission

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meshfed/gatewayd/pkg/log"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/pow"
	"github.com/meshfed/gatewayd/pkg/storage"
	"github.com/meshfed/gatewayd/pkg/transport"
	"github.com/meshfed/gatewayd/pkg/types"
)

// Errors surfaced by the admission protocol. HTTP/WS status mapping
// happens only at the pkg/httpapi and pkg/connection boundary.
var (
	ErrJoiningNetwork       = errors.New("admission: joining network")
	ErrInvitingNode         = errors.New("admission: inviting node")
	ErrNetworkNotFound      = errors.New("admission: network not found")
	ErrNetworkMessageSig    = errors.New("admission: invalid message signature")
	ErrChallengeInvalid     = errors.New("admission: challenge invalid or expired")
	ErrChallengeUnsolved    = errors.New("admission: proof-of-work verification failed")
)

// Signer signs outgoing envelopes; KeyManager additionally verifies
// inbound signatures and manages per-network node keys. Both are
// satisfied by an adapter over pkg/kms.KMS.
type KeyManager interface {
	transport.Signer
	Generate(keyID string) error
	Verify(keyID string, payload []byte, signatureB64 string) error
	PublicKey(keyID string) (string, error)
	PrivateKey(keyID string) (string, error)
	Import(keyID, publicPEM, privatePEM string) error
}

// Establisher schedules connection establishment after a peer is approved.
type Establisher interface {
	Establish(ctx context.Context, networkID string, node *types.Node, selfKey string) error
}

// NetworkBody mirrors types.Network with camelCase wire field names.
type NetworkBody struct {
	NetworkID   string   `json:"networkId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	NodeIDs     []string `json:"nodeIds"`
	Visible     bool     `json:"visible"`
	Registered  bool     `json:"registered"`
	InstanceID  string   `json:"instanceId"`
	CentralNode string   `json:"centralNode,omitempty"`
}

// NodeBody mirrors types.Node with camelCase wire field names.
type NodeBody struct {
	NodeID      string `json:"nodeId"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublicKey   string `json:"publicKey,omitempty"`
}

// ChallengeBody is the response shape of GET /service/challenge.
type ChallengeBody struct {
	Nonce      string `json:"nonce"`
	Difficulty uint   `json:"difficulty"`
}

// AuthRequestBody is the body of an AuthRequest/AuthInvite envelope.
type AuthRequestBody struct {
	Node            NodeBody      `json:"node"`
	Challenge       ChallengeBody `json:"challenge"`
	Solution        uint64        `json:"solution"`
	Justification   string        `json:"justification,omitempty"`
	Network         *NetworkBody  `json:"network,omitempty"`
	ManagementKey   string        `json:"managementKey,omitempty"`
	ManagementPriv  string        `json:"managementPrivateKey,omitempty"`
}

// AuthResponseBody is the body of an AuthRequestResponse/AuthInviteResponse.
type AuthResponseBody struct {
	Approved       bool         `json:"approved"`
	Node           NodeBody     `json:"node"`
	Network        *NetworkBody `json:"network,omitempty"`
	ManagementKey  string       `json:"managementKey,omitempty"`
	ManagementPriv string       `json:"managementPrivateKey,omitempty"`
}

// Admission wires storage, key management, transport and proof-of-work
// together to drive the join/invite protocol.
type Admission struct {
	store       storage.Store
	keys        KeyManager
	transport   *transport.Transport
	challenges  *ChallengeStore
	registry    *message.Registry
	establisher Establisher
	difficulty  uint
	selfURL     string
	logger      zerolog.Logger
}

// New builds an Admission coordinator.
func New(store storage.Store, keys KeyManager, tr *transport.Transport, establisher Establisher, registry *message.Registry, difficulty uint, selfURL string) *Admission {
	return &Admission{
		store:       store,
		keys:        keys,
		transport:   tr,
		challenges:  NewChallengeStore(),
		registry:    registry,
		establisher: establisher,
		difficulty:  difficulty,
		selfURL:     selfURL,
		logger:      log.WithComponent("admission"),
	}
}

// IssueChallenge generates a fresh proof-of-work challenge for GET
// /service/challenge.
func (a *Admission) IssueChallenge() (ChallengeBody, error) {
	entry, err := a.challenges.Generate(a.difficulty)
	if err != nil {
		return ChallengeBody{}, err
	}
	return ChallengeBody{Nonce: entry.Nonce, Difficulty: entry.Difficulty}, nil
}

// Join fetches the target's network summary and challenge, solves the
// proof-of-work, creates a placeholder network row, and sends a signed
// AuthRequest to the target's admission endpoint.
func (a *Admission) Join(ctx context.Context, targetURL, networkID, justification string) error {
	var networks []struct {
		NetworkBody
		CentralURL string `json:"centralUrl,omitempty"`
	}
	if err := a.transport.Get(ctx, targetURL+"/service/networks", nil, &networks); err != nil {
		return fmt.Errorf("%w: fetch networks: %v", ErrJoiningNetwork, err)
	}
	var target *NetworkBody
	for i := range networks {
		if networks[i].NetworkID == networkID {
			target = &networks[i].NetworkBody
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: network %s not advertised by %s", ErrNetworkNotFound, networkID, targetURL)
	}

	var challenge ChallengeBody
	if err := a.transport.Get(ctx, targetURL+"/service/challenge", nil, &challenge); err != nil {
		return fmt.Errorf("%w: fetch challenge: %v", ErrJoiningNetwork, err)
	}
	solution, err := pow.Solve(challenge.Nonce, challenge.Difficulty)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoiningNetwork, err)
	}

	placeholderID := types.PendingNetworkID(networkID)
	instanceID := uuid.NewString()
	placeholder := &types.Network{NetworkID: placeholderID, Name: target.Name, InstanceID: instanceID}
	if err := a.store.CreateNetwork(placeholder); err != nil {
		return fmt.Errorf("%w: %v", ErrJoiningNetwork, err)
	}
	if err := a.keys.Generate(networkID); err != nil {
		return fmt.Errorf("%w: generate node key: %v", ErrJoiningNetwork, err)
	}
	pubPEM, err := a.publicKeyPEM(networkID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoiningNetwork, err)
	}

	body := AuthRequestBody{
		Node:          NodeBody{NodeID: instanceID, URL: a.selfURL, PublicKey: pubPEM},
		Challenge:     challenge,
		Solution:      solution,
		Justification: justification,
	}
	env, err := message.NewEnvelope("dedi-link.AuthRequest", types.MessageMetadata{NetworkID: networkID, NodeID: instanceID, MessageID: uuid.NewString(), Timestamp: time.Now()}, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoiningNetwork, err)
	}

	var resp struct {
		Status    string `json:"status"`
		Reachable bool   `json:"reachable"`
	}
	raw, _ := json.Marshal(env)
	sig, err := a.keys.Sign(networkID, raw)
	if err != nil {
		return fmt.Errorf("%w: sign: %v", ErrJoiningNetwork, err)
	}
	if err := a.transport.Post(ctx, targetURL+"/service/requests", env, map[string]string{"Message-Signature": sig}, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrJoiningNetwork, err)
	}

	record := &types.AdmissionRecord{
		MessageID:       env.Metadata.MessageID,
		NetworkID:       networkID,
		Sent:            true,
		Payload:         raw,
		TargetURL:       targetURL,
		RequiresPolling: !resp.Reachable,
		Status:          types.AdmissionPending,
		CreatedAt:       time.Now(),
	}
	return a.store.CreateMessage(record)
}

// Invite sends an analogous AuthInvite envelope, additionally carrying
// our network document and management public key (and private key, in
// decentralised networks).
func (a *Admission) Invite(ctx context.Context, targetURL, networkID, justification string) error {
	network, err := a.store.GetNetwork(networkID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvitingNode, err)
	}
	mgmtPub, err := a.publicKeyPEM(managementKeyID(networkID))
	if err != nil {
		return fmt.Errorf("%w: management key: %v", ErrInvitingNode, err)
	}
	var mgmtPriv string
	if network.CentralNode == "" {
		// Decentralised network: every member needs the management
		// private key to sign operator-facing operations locally.
		mgmtPriv, err = a.keys.PrivateKey(managementKeyID(networkID))
		if err != nil {
			return fmt.Errorf("%w: management private key: %v", ErrInvitingNode, err)
		}
	}

	netBody := NetworkBody{NetworkID: network.NetworkID, Name: network.Name, Description: network.Description, NodeIDs: network.NodeIDs, Visible: network.Visible, Registered: network.Registered, InstanceID: network.InstanceID, CentralNode: network.CentralNode}
	body := AuthRequestBody{
		Node:           NodeBody{NodeID: network.InstanceID, URL: a.selfURL},
		Justification:  justification,
		Network:        &netBody,
		ManagementKey:  mgmtPub,
		ManagementPriv: mgmtPriv,
	}
	env, err := message.NewEnvelope("dedi-link.AuthInvite", types.MessageMetadata{NetworkID: networkID, NodeID: network.InstanceID, MessageID: uuid.NewString(), Timestamp: time.Now()}, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvitingNode, err)
	}

	raw, _ := json.Marshal(env)
	sig, err := a.keys.Sign(networkID, raw)
	if err != nil {
		return fmt.Errorf("%w: sign: %v", ErrInvitingNode, err)
	}
	var resp struct {
		Status    string `json:"status"`
		Reachable bool   `json:"reachable"`
	}
	if err := a.transport.Post(ctx, targetURL+"/service/requests", env, map[string]string{"Message-Signature": sig}, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrInvitingNode, err)
	}

	record := &types.AdmissionRecord{
		MessageID:       env.Metadata.MessageID,
		NetworkID:       networkID,
		Sent:            true,
		Payload:         raw,
		TargetURL:       targetURL,
		RequiresPolling: !resp.Reachable,
		Status:          types.AdmissionPending,
		CreatedAt:       time.Now(),
	}
	return a.store.CreateMessage(record)
}

// HandleRequest implements server-side POST /service/requests:
// trust-on-first-use signature validation against the embedded node
// public key, proof-of-work verification, and persistence as a pending
// received record.
func (a *Admission) HandleRequest(ctx context.Context, raw []byte, signature string) (reachable bool, err error) {
	var env message.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}
	var body AuthRequestBody
	if err := env.Decode(&body); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}

	if err := verifyTrustOnFirstUse(body.Node.PublicKey, raw, signature); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}

	entry, ok := a.challenges.Lookup(body.Challenge.Nonce)
	if !ok {
		return false, ErrChallengeInvalid
	}
	if !pow.Verify(entry.Nonce, entry.Difficulty, body.Solution) {
		return false, ErrChallengeUnsolved
	}
	a.challenges.Consume(entry.Nonce)

	record := &types.AdmissionRecord{
		MessageID: env.Metadata.MessageID,
		NetworkID: env.Metadata.NetworkID,
		Sent:      false,
		Payload:   raw,
		Status:    types.AdmissionPending,
		CreatedAt: time.Now(),
	}
	if err := a.store.CreateMessage(record); err != nil {
		return false, err
	}

	reachable, _ = a.transport.CheckConnectivity(ctx, body.Node.URL)
	return reachable, nil
}

// Decide implements PATCH /manage/requests/<id>: flips the record
// terminal, admits the peer into the local network, and sends the
// signed response (falling back to the other side's polling on failure).
func (a *Admission) Decide(ctx context.Context, messageID string, approve bool, justification string) error {
	record, err := a.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if record.Sent {
		return fmt.Errorf("admission: %s is a sent record, not awaiting a decision", messageID)
	}

	var env message.Envelope
	if err := json.Unmarshal(record.Payload, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}
	var reqBody AuthRequestBody
	if err := env.Decode(&reqBody); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}

	record.Status = types.AdmissionAccepted
	if !approve {
		record.Status = types.AdmissionRejected
	}
	if err := a.store.UpdateMessage(record); err != nil {
		return err
	}

	respType := "dedi-link.AuthRequestResponse"
	if env.MessageType == "dedi-link.AuthInvite" {
		respType = "dedi-link.AuthInviteResponse"
	}

	if approve {
		node := &types.Node{NodeID: reqBody.Node.NodeID, URL: reqBody.Node.URL, PublicKey: reqBody.Node.PublicKey, Approved: true}
		if err := a.store.CreateNode(env.Metadata.NetworkID, node); err != nil {
			return err
		}
		if a.establisher != nil {
			go a.establisher.Establish(context.Background(), env.Metadata.NetworkID, node, env.Metadata.NetworkID)
		}
	}

	network, err := a.store.GetNetwork(env.Metadata.NetworkID)
	var netBody *NetworkBody
	if err == nil {
		netBody = &NetworkBody{NetworkID: network.NetworkID, Name: network.Name, Description: network.Description, NodeIDs: network.NodeIDs, Visible: network.Visible, Registered: network.Registered, InstanceID: network.InstanceID, CentralNode: network.CentralNode}
	}
	selfPub, _ := a.publicKeyPEM(env.Metadata.NetworkID)
	selfNode := NodeBody{NodeID: selfNodeID(network), URL: a.selfURL, PublicKey: selfPub}

	respBody := AuthResponseBody{Approved: approve, Node: selfNode, Network: netBody}
	if approve && respType == "dedi-link.AuthRequestResponse" && network != nil {
		mgmtPub, err := a.publicKeyPEM(managementKeyID(env.Metadata.NetworkID))
		if err != nil {
			return fmt.Errorf("%w: management key: %v", ErrNetworkMessageSig, err)
		}
		respBody.ManagementKey = mgmtPub
		if network.CentralNode == "" {
			mgmtPriv, err := a.keys.PrivateKey(managementKeyID(env.Metadata.NetworkID))
			if err != nil {
				return fmt.Errorf("%w: management private key: %v", ErrNetworkMessageSig, err)
			}
			respBody.ManagementPriv = mgmtPriv
		}
	}

	respEnv, err := message.NewEnvelope(respType, types.MessageMetadata{NetworkID: env.Metadata.NetworkID, MessageID: env.Metadata.MessageID, Timestamp: time.Now()}, respBody)
	if err != nil {
		return err
	}

	raw, _ := json.Marshal(respEnv)
	sig, err := a.keys.Sign(env.Metadata.NetworkID, raw)
	if err != nil {
		return err
	}

	record.ResponsePayload = raw
	if err := a.store.UpdateMessage(record); err != nil {
		return err
	}

	if err := a.transport.Post(ctx, reqBody.Node.URL+"/service/responses", respEnv, map[string]string{"Message-Signature": sig}, nil); err != nil {
		a.logger.Warn().Err(err).Str("message_id", messageID).Msg("response delivery failed, relying on requester polling")
	}
	return nil
}

// HandleResponse implements server-side POST /service/responses: on an
// accepted AuthRequestResponse it replaces the placeholder network with
// the authoritative document and adds the responder as approved; on an
// accepted AuthInviteResponse it adds the responder to the local network.
func (a *Admission) HandleResponse(ctx context.Context, raw []byte) error {
	var env message.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}
	var body AuthResponseBody
	if err := env.Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}

	sent, err := a.store.GetMessage(env.Metadata.MessageID)
	if err != nil {
		return err
	}
	sent.Status = types.AdmissionAccepted
	if !body.Approved {
		sent.Status = types.AdmissionRejected
		return a.store.UpdateMessage(sent)
	}
	if err := a.store.UpdateMessage(sent); err != nil {
		return err
	}

	if env.MessageType == "dedi-link.AuthRequestResponse" && body.Network != nil {
		placeholder := types.PendingNetworkID(body.Network.NetworkID)
		a.store.DeleteNetwork(placeholder)
		network := &types.Network{NetworkID: body.Network.NetworkID, Name: body.Network.Name, Description: body.Network.Description, NodeIDs: body.Network.NodeIDs, Visible: body.Network.Visible, Registered: body.Network.Registered, InstanceID: body.Network.InstanceID, CentralNode: body.Network.CentralNode}
		if err := a.store.CreateNetwork(network); err != nil {
			return err
		}
		if body.ManagementKey != "" {
			if err := a.keys.Import(managementKeyID(env.Metadata.NetworkID), body.ManagementKey, body.ManagementPriv); err != nil {
				return fmt.Errorf("%w: import management key: %v", ErrNetworkMessageSig, err)
			}
		}
	}

	node := &types.Node{NodeID: body.Node.NodeID, URL: body.Node.URL, PublicKey: body.Node.PublicKey, Approved: true}
	return a.store.CreateNode(env.Metadata.NetworkID, node)
}

// VerifyPollSignature checks that raw (the canonical `{messageId,
// challenge}` JSON the requester signed) was signed by the same node key
// embedded in the original AuthRequest/AuthInvite for messageID, so a
// third party can't poll someone else's pending record.
func (a *Admission) VerifyPollSignature(messageID string, raw []byte, signatureB64 string) error {
	record, err := a.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	var env message.Envelope
	if err := json.Unmarshal(record.Payload, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}
	var body AuthRequestBody
	if err := env.Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkMessageSig, err)
	}
	return verifyTrustOnFirstUse(body.Node.PublicKey, raw, signatureB64)
}

// HandlePoll implements POST /service/requests/<id>: the unreachable
// requester re-presents its message id; the service returns the record's
// status and, once accepted, the generated response envelope.
func (a *Admission) HandlePoll(messageID string) (types.AdmissionStatus, json.RawMessage, error) {
	record, err := a.store.GetMessage(messageID)
	if err != nil {
		return "", nil, err
	}
	if record.Status != types.AdmissionAccepted {
		return record.Status, nil, nil
	}
	return record.Status, json.RawMessage(record.ResponsePayload), nil
}

// ManagementKeyID returns the KMS key id under which a network's
// management keypair is stored, exported so pkg/httpapi can generate it
// at network creation time without duplicating the naming convention.
func ManagementKeyID(networkID string) string { return managementKeyID(networkID) }

func managementKeyID(networkID string) string { return "mgmt:" + networkID }

func (a *Admission) publicKeyPEM(keyID string) (string, error) {
	return a.keys.PublicKey(keyID)
}

func selfNodeID(network *types.Network) string {
	if network == nil {
		return ""
	}
	return network.InstanceID
}

func verifyTrustOnFirstUse(publicKeyPEM string, payload []byte, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return err
	}
	return verifyPEM(publicKeyPEM, payload, sig)
}
