// Package storage persists the gateway's durable entities: networks,
// nodes, admission records, and the opaque user-to-node mapping. Two
// drivers implement the same Store interface — an in-memory map-backed
// driver for tests and DATABASE_DRIVER=memory, and a BoltDB-backed
// document driver for DATABASE_DRIVER=document.
package storage

import (
	"errors"

	"github.com/meshfed/gatewayd/pkg/types"
)

// ErrNotFound is returned when a lookup by id finds no record.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyExists is returned by a Create call when a record with the
// same id already exists.
var ErrAlreadyExists = errors.New("storage: already exists")

// ErrConflict is returned when an update races another writer's view of
// a record (reserved for drivers that implement optimistic concurrency).
var ErrConflict = errors.New("storage: conflict")

// NetworkRepository persists Network records, keyed by NetworkID.
type NetworkRepository interface {
	CreateNetwork(network *types.Network) error
	GetNetwork(networkID string) (*types.Network, error)
	ListNetworks() ([]*types.Network, error)
	UpdateNetwork(network *types.Network) error
	DeleteNetwork(networkID string) error
}

// NodeRepository persists Node records, keyed by (networkID, nodeID).
type NodeRepository interface {
	CreateNode(networkID string, node *types.Node) error
	GetNode(networkID, nodeID string) (*types.Node, error)
	ListNodes(networkID string) ([]*types.Node, error)
	UpdateNode(networkID string, node *types.Node) error
	DeleteNode(networkID, nodeID string) error
}

// MessageRepository persists AdmissionRecord entries, keyed by MessageID.
type MessageRepository interface {
	CreateMessage(record *types.AdmissionRecord) error
	GetMessage(messageID string) (*types.AdmissionRecord, error)
	ListMessages(networkID string) ([]*types.AdmissionRecord, error)
	UpdateMessage(record *types.AdmissionRecord) error
	DeleteMessage(messageID string) error
}

// UserRepository persists UserMapping records, keyed by (networkID, userID).
type UserRepository interface {
	CreateUser(mapping *types.UserMapping) error
	GetUser(networkID, userID string) (*types.UserMapping, error)
	ListUsers(networkID string) ([]*types.UserMapping, error)
	DeleteUser(networkID, userID string) error
}

// DataIndex persists the local (networkID, nodeID) -> data index mapping
// surfaced on Node.DataIndex.
type DataIndex interface {
	SaveDataIndex(networkID, nodeID string, index map[string]string) error
	GetDataIndex(networkID, nodeID string) (map[string]string, error)
}

// Store is the full repository surface implemented by every driver.
type Store interface {
	NetworkRepository
	NodeRepository
	MessageRepository
	UserRepository
	DataIndex

	Close() error
}
