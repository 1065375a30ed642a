package admission

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfed/gatewayd/pkg/kms"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/pow"
	"github.com/meshfed/gatewayd/pkg/storage"
	"github.com/meshfed/gatewayd/pkg/transport"
	"github.com/meshfed/gatewayd/pkg/types"
)

func newTestAdmission() (*Admission, *kms.SignerAdapter, storage.Store) {
	store := storage.NewMemory()
	keys := kms.NewSignerAdapter(kms.NewMemory())
	tr := transport.New(2 * time.Second)
	return New(store, keys, tr, nil, message.NewRegistry(), 8, "http://self.example/gatewayd"), keys, store
}

func TestHandleRequestAcceptsValidChallengeAndSignature(t *testing.T) {
	a, _, store := newTestAdmission()

	challenge, err := a.IssueChallenge()
	require.NoError(t, err)
	solution, err := solveForTest(challenge)
	require.NoError(t, err)

	reqKeys := kms.NewSignerAdapter(kms.NewMemory())
	require.NoError(t, reqKeys.Generate("req-node"))
	pub, err := reqKeys.PublicKey("req-node")
	require.NoError(t, err)

	body := AuthRequestBody{
		Node:      NodeBody{NodeID: "req-node", URL: "http://requester.example", PublicKey: pub},
		Challenge: challenge,
		Solution:  solution,
	}
	env, err := message.NewEnvelope("dedi-link.AuthRequest", types.MessageMetadata{NetworkID: "net-1", NodeID: "req-node", MessageID: uuid.NewString(), Timestamp: time.Now()}, body)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	sig, err := reqKeys.Sign("req-node", raw)
	require.NoError(t, err)

	_, err = a.HandleRequest(context.Background(), raw, sig)
	require.NoError(t, err)

	record, err := store.GetMessage(env.Metadata.MessageID)
	require.NoError(t, err)
	assert.Equal(t, types.AdmissionPending, record.Status)
}

func TestHandleRequestRejectsBadSignature(t *testing.T) {
	a, _, _ := newTestAdmission()

	challenge, err := a.IssueChallenge()
	require.NoError(t, err)
	solution, err := solveForTest(challenge)
	require.NoError(t, err)

	reqKeys := kms.NewSignerAdapter(kms.NewMemory())
	require.NoError(t, reqKeys.Generate("req-node"))
	pub, err := reqKeys.PublicKey("req-node")
	require.NoError(t, err)

	body := AuthRequestBody{Node: NodeBody{NodeID: "req-node", PublicKey: pub}, Challenge: challenge, Solution: solution}
	env, err := message.NewEnvelope("dedi-link.AuthRequest", types.MessageMetadata{NetworkID: "net-1", NodeID: "req-node", MessageID: uuid.NewString()}, body)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = a.HandleRequest(context.Background(), raw, "bm90LWEtcmVhbC1zaWduYXR1cmU=")
	assert.ErrorIs(t, err, ErrNetworkMessageSig)
}

func TestHandleRequestRejectsUnknownChallenge(t *testing.T) {
	a, _, _ := newTestAdmission()

	reqKeys := kms.NewSignerAdapter(kms.NewMemory())
	require.NoError(t, reqKeys.Generate("req-node"))
	pub, err := reqKeys.PublicKey("req-node")
	require.NoError(t, err)

	body := AuthRequestBody{Node: NodeBody{NodeID: "req-node", PublicKey: pub}, Challenge: ChallengeBody{Nonce: "does-not-exist", Difficulty: 8}, Solution: 0}
	env, err := message.NewEnvelope("dedi-link.AuthRequest", types.MessageMetadata{NetworkID: "net-1", NodeID: "req-node", MessageID: uuid.NewString()}, body)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	sig, err := reqKeys.Sign("req-node", raw)
	require.NoError(t, err)

	_, err = a.HandleRequest(context.Background(), raw, sig)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func solveForTest(c ChallengeBody) (uint64, error) {
	return pow.Solve(c.Nonce, c.Difficulty)
}
