// Package message defines the wire envelope exchanged between gateway
// nodes and the registry that resolves a message type to its catalog
// rules (response-only, async, local destination).
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meshfed/gatewayd/pkg/types"
)

// ErrConfigurationNotFound is returned when a message type has no
// catalog entry.
var ErrConfigurationNotFound = errors.New("message: configuration not found")

// ErrParsing is returned when a catalog file or envelope body fails to
// parse.
var ErrParsing = errors.New("message: parse failure")

// Envelope is the wire shape exchanged between nodes:
// {messageType, metadata: {...}, <body>}.
type Envelope struct {
	MessageType string                 `json:"messageType"`
	Metadata    types.MessageMetadata  `json:"metadata"`
	Body        map[string]interface{} `json:"body,omitempty"`
}

// Decode unmarshals Body into v.
func (e *Envelope) Decode(v interface{}) error {
	raw, err := json.Marshal(e.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParsing, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrParsing, err)
	}
	return nil
}

// NewEnvelope builds an envelope carrying body marshalled to a map.
func NewEnvelope(messageType string, metadata types.MessageMetadata, body interface{}) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsing, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsing, err)
	}
	return &Envelope{MessageType: messageType, Metadata: metadata, Body: m}, nil
}

// Config describes one catalog entry: {id, response?, precedence?, async?}.
type Config struct {
	ID          string `json:"id"`
	Response    string `json:"response,omitempty"`
	Precedence  string `json:"precedence,omitempty"`
	Async       bool   `json:"async,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// IsResponseOnly reports whether this type must not be originated by the
// management surface (it has a preceding request type).
func (c Config) IsResponseOnly() bool {
	return c.Precedence != ""
}

// HasDestination reports whether receipt forwards the body to a local URL.
func (c Config) HasDestination() bool {
	return c.Destination != ""
}

// Catalog is the on-disk shape of a catalog file: {basePackage, messages:[...]}.
type Catalog struct {
	BasePackage string   `json:"basePackage"`
	Messages    []Config `json:"messages"`
}

// Registry resolves fully-qualified message ids (basePackage.id) to their
// Config, loaded from one or more Catalog files and overlaid with locally
// configured proxy destinations.
type Registry struct {
	configs map[string]Config
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]Config)}
}

func fqid(basePackage, id string) string {
	return basePackage + "." + id
}

// LoadCatalog merges a Catalog's messages into the registry.
func (r *Registry) LoadCatalog(raw []byte) error {
	var cat Catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return fmt.Errorf("%w: %v", ErrParsing, err)
	}
	for _, cfg := range cat.Messages {
		r.configs[fqid(cat.BasePackage, cfg.ID)] = cfg
	}
	return nil
}

// OverlayDestination sets (or clears, with an empty url) the local
// forwarding destination for an already-registered message id.
func (r *Registry) OverlayDestination(id, url string) error {
	cfg, ok := r.configs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConfigurationNotFound, id)
	}
	cfg.Destination = url
	r.configs[id] = cfg
	return nil
}

// Lookup resolves a fully-qualified message id.
func (r *Registry) Lookup(id string) (Config, error) {
	cfg, ok := r.configs[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigurationNotFound, id)
	}
	return cfg, nil
}

// Sender abstracts envelope delivery so admission/routing/sync can depend
// on it without importing the connection manager directly.
type Sender interface {
	Send(envelope *Envelope, node *types.Node) error
	Broadcast(envelope *Envelope, networkID string) (int, error)
}
