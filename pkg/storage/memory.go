package storage

import (
	"fmt"
	"sync"

	"github.com/meshfed/gatewayd/pkg/types"
)

// Memory is an in-process Store backed by maps guarded by a single
// RWMutex, used in tests and under DATABASE_DRIVER=memory.
type Memory struct {
	mu         sync.RWMutex
	networks   map[string]*types.Network
	nodes      map[string]map[string]*types.Node // networkID -> nodeID -> Node
	messages   map[string]*types.AdmissionRecord
	users      map[string]map[string]*types.UserMapping // networkID -> userID -> UserMapping
	dataIndex  map[string]map[string]string              // "networkID/nodeID" -> index
}

// NewMemory creates an empty in-process Store.
func NewMemory() *Memory {
	return &Memory{
		networks:  make(map[string]*types.Network),
		nodes:     make(map[string]map[string]*types.Node),
		messages:  make(map[string]*types.AdmissionRecord),
		users:     make(map[string]map[string]*types.UserMapping),
		dataIndex: make(map[string]map[string]string),
	}
}

func (m *Memory) CreateNetwork(network *types.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.networks[network.NetworkID]; exists {
		return fmt.Errorf("%w: network %s", ErrAlreadyExists, network.NetworkID)
	}
	cp := *network
	m.networks[network.NetworkID] = &cp
	return nil
}

func (m *Memory) GetNetwork(networkID string) (*types.Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.networks[networkID]
	if !ok {
		return nil, fmt.Errorf("%w: network %s", ErrNotFound, networkID)
	}
	cp := *n
	return &cp, nil
}

func (m *Memory) ListNetworks() ([]*types.Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Network, 0, len(m.networks))
	for _, n := range m.networks {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) UpdateNetwork(network *types.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[network.NetworkID]; !ok {
		return fmt.Errorf("%w: network %s", ErrNotFound, network.NetworkID)
	}
	cp := *network
	m.networks[network.NetworkID] = &cp
	return nil
}

func (m *Memory) DeleteNetwork(networkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[networkID]; !ok {
		return fmt.Errorf("%w: network %s", ErrNotFound, networkID)
	}
	delete(m.networks, networkID)
	return nil
}

func (m *Memory) CreateNode(networkID string, node *types.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.nodes[networkID]
	if !ok {
		bucket = make(map[string]*types.Node)
		m.nodes[networkID] = bucket
	}
	if _, exists := bucket[node.NodeID]; exists {
		return fmt.Errorf("%w: node %s in network %s", ErrAlreadyExists, node.NodeID, networkID)
	}
	cp := *node
	bucket[node.NodeID] = &cp
	return nil
}

func (m *Memory) GetNode(networkID, nodeID string) (*types.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.nodes[networkID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s in network %s", ErrNotFound, nodeID, networkID)
	}
	n, ok := bucket[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s in network %s", ErrNotFound, nodeID, networkID)
	}
	cp := *n
	return &cp, nil
}

func (m *Memory) ListNodes(networkID string) ([]*types.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.nodes[networkID]
	out := make([]*types.Node, 0, len(bucket))
	for _, n := range bucket {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) UpdateNode(networkID string, node *types.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.nodes[networkID]
	if !ok {
		return fmt.Errorf("%w: node %s in network %s", ErrNotFound, node.NodeID, networkID)
	}
	if _, ok := bucket[node.NodeID]; !ok {
		return fmt.Errorf("%w: node %s in network %s", ErrNotFound, node.NodeID, networkID)
	}
	cp := *node
	bucket[node.NodeID] = &cp
	return nil
}

func (m *Memory) DeleteNode(networkID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.nodes[networkID]
	if !ok {
		return fmt.Errorf("%w: node %s in network %s", ErrNotFound, nodeID, networkID)
	}
	if _, ok := bucket[nodeID]; !ok {
		return fmt.Errorf("%w: node %s in network %s", ErrNotFound, nodeID, networkID)
	}
	delete(bucket, nodeID)
	return nil
}

func (m *Memory) CreateMessage(record *types.AdmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[record.MessageID]; exists {
		return fmt.Errorf("%w: message %s", ErrAlreadyExists, record.MessageID)
	}
	cp := *record
	m.messages[record.MessageID] = &cp
	return nil
}

func (m *Memory) GetMessage(messageID string) (*types.AdmissionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListMessages(networkID string) ([]*types.AdmissionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.AdmissionRecord
	for _, r := range m.messages {
		if r.NetworkID == networkID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateMessage(record *types.AdmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[record.MessageID]; !ok {
		return fmt.Errorf("%w: message %s", ErrNotFound, record.MessageID)
	}
	cp := *record
	m.messages[record.MessageID] = &cp
	return nil
}

func (m *Memory) DeleteMessage(messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	delete(m.messages, messageID)
	return nil
}

func (m *Memory) CreateUser(mapping *types.UserMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.users[mapping.NetworkID]
	if !ok {
		bucket = make(map[string]*types.UserMapping)
		m.users[mapping.NetworkID] = bucket
	}
	if _, exists := bucket[mapping.UserID]; exists {
		return fmt.Errorf("%w: user %s in network %s", ErrAlreadyExists, mapping.UserID, mapping.NetworkID)
	}
	cp := *mapping
	bucket[mapping.UserID] = &cp
	return nil
}

func (m *Memory) GetUser(networkID, userID string) (*types.UserMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.users[networkID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s in network %s", ErrNotFound, userID, networkID)
	}
	u, ok := bucket[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s in network %s", ErrNotFound, userID, networkID)
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) ListUsers(networkID string) ([]*types.UserMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.users[networkID]
	out := make([]*types.UserMapping, 0, len(bucket))
	for _, u := range bucket {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) DeleteUser(networkID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.users[networkID]
	if !ok {
		return fmt.Errorf("%w: user %s in network %s", ErrNotFound, userID, networkID)
	}
	if _, ok := bucket[userID]; !ok {
		return fmt.Errorf("%w: user %s in network %s", ErrNotFound, userID, networkID)
	}
	delete(bucket, userID)
	return nil
}

func dataIndexKey(networkID, nodeID string) string {
	return networkID + "/" + nodeID
}

func (m *Memory) SaveDataIndex(networkID, nodeID string, index map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(index))
	for k, v := range index {
		cp[k] = v
	}
	m.dataIndex[dataIndexKey(networkID, nodeID)] = cp
	return nil
}

func (m *Memory) GetDataIndex(networkID, nodeID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.dataIndex[dataIndexKey(networkID, nodeID)]
	if !ok {
		return map[string]string{}, nil
	}
	cp := make(map[string]string, len(idx))
	for k, v := range idx {
		cp[k] = v
	}
	return cp, nil
}

// Close implements Store. The in-memory driver holds no external
// resources.
func (m *Memory) Close() error {
	return nil
}
