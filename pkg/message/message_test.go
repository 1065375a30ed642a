package message

import (
	"testing"

	"github.com/meshfed/gatewayd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `{
  "basePackage": "dedi-link",
  "messages": [
    {"id": "AuthRequest", "response": "AuthRequestResponse"},
    {"id": "AuthRequestResponse", "precedence": "AuthRequest"},
    {"id": "SyncNode", "async": true},
    {"id": "Webhook", "destination": ""}
  ]
}`

func TestLoadCatalogAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadCatalog([]byte(sampleCatalog)))

	cfg, err := r.Lookup("dedi-link.AuthRequest")
	require.NoError(t, err)
	assert.Equal(t, "AuthRequestResponse", cfg.Response)
	assert.False(t, cfg.IsResponseOnly())
}

func TestResponseOnlyTypeIsFlagged(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadCatalog([]byte(sampleCatalog)))

	cfg, err := r.Lookup("dedi-link.AuthRequestResponse")
	require.NoError(t, err)
	assert.True(t, cfg.IsResponseOnly())
}

func TestLookupUnknownIDFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("dedi-link.Nope")
	assert.ErrorIs(t, err, ErrConfigurationNotFound)
}

func TestOverlayDestination(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadCatalog([]byte(sampleCatalog)))
	require.NoError(t, r.OverlayDestination("dedi-link.Webhook", "http://localhost:9000/hook"))

	cfg, err := r.Lookup("dedi-link.Webhook")
	require.NoError(t, err)
	assert.True(t, cfg.HasDestination())
	assert.Equal(t, "http://localhost:9000/hook", cfg.Destination)
}

func TestNewEnvelopeRoundTripsBody(t *testing.T) {
	type payload struct {
		Foo string `json:"foo"`
	}
	env, err := NewEnvelope("dedi-link.AuthRequest", types.MessageMetadata{NetworkID: "net-1"}, payload{Foo: "bar"})
	require.NoError(t, err)

	var out payload
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "bar", out.Foo)
}
