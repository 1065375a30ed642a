package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/meshfed/gatewayd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNetworks  = []byte("networks")
	bucketNodes     = []byte("nodes")
	bucketMessages  = []byte("messages")
	bucketUsers     = []byte("users")
	bucketDataIndex = []byte("data_index")
)

// Document is a Store backed by BoltDB, one bucket per entity plus a
// data_index bucket, records JSON-encoded. Nested entities (nodes, users)
// are keyed "networkID/id" within their shared bucket.
type Document struct {
	db *bolt.DB
}

// NewDocument opens (creating if absent) a BoltDB file under dataDir.
func NewDocument(dataDir string) (*Document, error) {
	dbPath := filepath.Join(dataDir, "gatewayd.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open document store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNetworks, bucketNodes, bucketMessages, bucketUsers, bucketDataIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Document{db: db}, nil
}

func nestedKey(networkID, id string) []byte {
	return []byte(networkID + "/" + id)
}

func (d *Document) Close() error {
	return d.db.Close()
}

func (d *Document) CreateNetwork(network *types.Network) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		if b.Get([]byte(network.NetworkID)) != nil {
			return fmt.Errorf("%w: network %s", ErrAlreadyExists, network.NetworkID)
		}
		data, err := json.Marshal(network)
		if err != nil {
			return err
		}
		return b.Put([]byte(network.NetworkID), data)
	})
}

func (d *Document) GetNetwork(networkID string) (*types.Network, error) {
	var n types.Network
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNetworks).Get([]byte(networkID))
		if data == nil {
			return fmt.Errorf("%w: network %s", ErrNotFound, networkID)
		}
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (d *Document) ListNetworks() ([]*types.Network, error) {
	var out []*types.Network
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).ForEach(func(_, v []byte) error {
			var n types.Network
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

func (d *Document) UpdateNetwork(network *types.Network) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		if b.Get([]byte(network.NetworkID)) == nil {
			return fmt.Errorf("%w: network %s", ErrNotFound, network.NetworkID)
		}
		data, err := json.Marshal(network)
		if err != nil {
			return err
		}
		return b.Put([]byte(network.NetworkID), data)
	})
}

func (d *Document) DeleteNetwork(networkID string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		if b.Get([]byte(networkID)) == nil {
			return fmt.Errorf("%w: network %s", ErrNotFound, networkID)
		}
		return b.Delete([]byte(networkID))
	})
}

func (d *Document) CreateNode(networkID string, node *types.Node) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		key := nestedKey(networkID, node.NodeID)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: node %s in network %s", ErrAlreadyExists, node.NodeID, networkID)
		}
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (d *Document) GetNode(networkID, nodeID string) (*types.Node, error) {
	var n types.Node
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get(nestedKey(networkID, nodeID))
		if data == nil {
			return fmt.Errorf("%w: node %s in network %s", ErrNotFound, nodeID, networkID)
		}
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (d *Document) ListNodes(networkID string) ([]*types.Node, error) {
	var out []*types.Node
	prefix := []byte(networkID + "/")
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNodes).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
		}
		return nil
	})
	return out, err
}

func (d *Document) UpdateNode(networkID string, node *types.Node) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		key := nestedKey(networkID, node.NodeID)
		if b.Get(key) == nil {
			return fmt.Errorf("%w: node %s in network %s", ErrNotFound, node.NodeID, networkID)
		}
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (d *Document) DeleteNode(networkID, nodeID string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		key := nestedKey(networkID, nodeID)
		if b.Get(key) == nil {
			return fmt.Errorf("%w: node %s in network %s", ErrNotFound, nodeID, networkID)
		}
		return b.Delete(key)
	})
}

func (d *Document) CreateMessage(record *types.AdmissionRecord) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b.Get([]byte(record.MessageID)) != nil {
			return fmt.Errorf("%w: message %s", ErrAlreadyExists, record.MessageID)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.MessageID), data)
	})
}

func (d *Document) GetMessage(messageID string) (*types.AdmissionRecord, error) {
	var r types.AdmissionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *Document) ListMessages(networkID string) ([]*types.AdmissionRecord, error) {
	var out []*types.AdmissionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(_, v []byte) error {
			var r types.AdmissionRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.NetworkID == networkID {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

func (d *Document) UpdateMessage(record *types.AdmissionRecord) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b.Get([]byte(record.MessageID)) == nil {
			return fmt.Errorf("%w: message %s", ErrNotFound, record.MessageID)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.MessageID), data)
	})
}

func (d *Document) DeleteMessage(messageID string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b.Get([]byte(messageID)) == nil {
			return fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return b.Delete([]byte(messageID))
	})
}

func (d *Document) CreateUser(mapping *types.UserMapping) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		key := nestedKey(mapping.NetworkID, mapping.UserID)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: user %s in network %s", ErrAlreadyExists, mapping.UserID, mapping.NetworkID)
		}
		data, err := json.Marshal(mapping)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (d *Document) GetUser(networkID, userID string) (*types.UserMapping, error) {
	var u types.UserMapping
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get(nestedKey(networkID, userID))
		if data == nil {
			return fmt.Errorf("%w: user %s in network %s", ErrNotFound, userID, networkID)
		}
		return json.Unmarshal(data, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *Document) ListUsers(networkID string) ([]*types.UserMapping, error) {
	var out []*types.UserMapping
	prefix := []byte(networkID + "/")
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketUsers).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var u types.UserMapping
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, &u)
		}
		return nil
	})
	return out, err
}

func (d *Document) DeleteUser(networkID, userID string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		key := nestedKey(networkID, userID)
		if b.Get(key) == nil {
			return fmt.Errorf("%w: user %s in network %s", ErrNotFound, userID, networkID)
		}
		return b.Delete(key)
	})
}

func (d *Document) SaveDataIndex(networkID, nodeID string, index map[string]string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDataIndex).Put(nestedKey(networkID, nodeID), data)
	})
}

func (d *Document) GetDataIndex(networkID, nodeID string) (map[string]string, error) {
	index := map[string]string{}
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDataIndex).Get(nestedKey(networkID, nodeID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &index)
	})
	return index, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
