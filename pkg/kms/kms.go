// Package kms manages the RSA key pairs used to sign and verify network
// messages. Every node holds a node key used to sign outbound messages;
// the local gateway also holds a management key used for operator-facing
// operations. Key rotation retains the previous key version so messages
// signed just before a rotation still verify.
package kms

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Bit sizes for generated keys, split the same way long-lived and
// short-lived keys are sized elsewhere in the stack: the management key is
// long-lived and gets the larger size, node keys rotate more often.
const (
	NodeKeyBits       = 2048
	ManagementKeyBits = 4096
)

// ErrKeyNotFound is returned when no key exists for the given id.
var ErrKeyNotFound = errors.New("kms: key not found")

// ErrKeyManagement is returned when key generation, signing, or
// verification fails for a reason other than a missing key.
var ErrKeyManagement = errors.New("kms: key management error")

// Key is one generation of a keypair. Private is nil when only the
// public half is held — e.g. a management key imported from an invite
// in a centralised network, where the private key never leaves the
// central node.
type Key struct {
	Private   *rsa.PrivateKey
	Public    *rsa.PublicKey
	CreatedAt time.Time
}

// PublicPEM renders the key's public half as a PEM-encoded PKIX block.
func (k *Key) PublicPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %v", ErrKeyManagement, err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// PrivatePEM renders the key's private half as a PEM-encoded PKCS1
// block. Fails if only the public half is held.
func (k *Key) PrivatePEM() (string, error) {
	if k.Private == nil {
		return "", fmt.Errorf("%w: no private key material held", ErrKeyManagement)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k.Private)}
	return string(pem.EncodeToMemory(block)), nil
}

// Record is the current and, if a rotation has happened, previous keypair
// for a given key id.
type Record struct {
	Current  *Key
	Previous *Key
}

// KMS is the contract implemented by the memory and vault drivers.
type KMS interface {
	// Generate creates a new keypair for keyID, replacing any existing
	// one outright (no previous-version retention — use Rotate for that).
	Generate(keyID string, bits int) (*Key, error)

	// Rotate generates a new keypair for keyID, retaining the prior
	// current key as Previous so recently signed messages still verify.
	Rotate(keyID string, bits int) (*Key, error)

	// Sign signs payload with keyID's current private key using RSA-PSS
	// with SHA-256.
	Sign(keyID string, payload []byte) ([]byte, error)

	// Verify checks signature against payload using keyID's current key,
	// falling back to the previous key if verification against current
	// fails.
	Verify(keyID string, payload, signature []byte) error

	// PublicKey returns the PEM-encoded current public key for keyID.
	PublicKey(keyID string) (string, error)

	// PreviousPublicKey returns the PEM-encoded key that Current replaced
	// at the last Rotate, so a peer can still validate a management key
	// shipped just before a rotation took effect.
	PreviousPublicKey(keyID string) (string, error)

	// PrivateKey returns the PEM-encoded current private key for keyID.
	// Fails with ErrKeyManagement if only a public key is held (a
	// management key imported without its private half).
	PrivateKey(keyID string) (string, error)

	// Import stores externally received key material for keyID,
	// replacing any existing record the way Generate does. privatePEM
	// may be empty: centralised networks ship only the management
	// public key to invitees.
	Import(keyID, publicPEM, privatePEM string) error
}

func parsePublicKeyPEM(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: invalid public key PEM", ErrKeyManagement)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrKeyManagement, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrKeyManagement)
	}
	return pub, nil
}

func parsePrivateKeyPEM(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, fmt.Errorf("%w: invalid private key PEM", ErrKeyManagement)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrKeyManagement, err)
	}
	return priv, nil
}

func importedKey(publicPEM, privatePEM string) (*Key, error) {
	pub, err := parsePublicKeyPEM(publicPEM)
	if err != nil {
		return nil, err
	}
	key := &Key{Public: pub, CreatedAt: time.Now()}
	if privatePEM == "" {
		return key, nil
	}
	priv, err := parsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, err
	}
	if priv.PublicKey.N.Cmp(pub.N) != 0 {
		return nil, fmt.Errorf("%w: private key does not match public key", ErrKeyManagement)
	}
	key.Private = priv
	key.Public = &priv.PublicKey
	return key, nil
}

func signWith(key *rsa.PrivateKey, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrKeyManagement, err)
	}
	return sig, nil
}

func verifyWith(pub *rsa.PublicKey, payload, signature []byte) error {
	digest := sha256.Sum256(payload)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
}

// Memory is an in-process KMS holding keys in a mutex-guarded map.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]*Record
}

// NewMemory creates an empty in-process KMS.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*Record)}
}

func generateKey(bits int) (*Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrKeyManagement, err)
	}
	return &Key{Private: priv, Public: &priv.PublicKey, CreatedAt: time.Now()}, nil
}

// Generate implements KMS.
func (m *Memory) Generate(keyID string, bits int) (*Key, error) {
	key, err := generateKey(bits)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyID] = &Record{Current: key}
	return key, nil
}

// Rotate implements KMS.
func (m *Memory) Rotate(keyID string, bits int) (*Key, error) {
	key, err := generateKey(bits)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.keys[keyID]
	if !ok {
		m.keys[keyID] = &Record{Current: key}
		return key, nil
	}
	rec.Previous = rec.Current
	rec.Current = key
	return key, nil
}

func (m *Memory) record(keyID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return rec, nil
}

// Sign implements KMS.
func (m *Memory) Sign(keyID string, payload []byte) ([]byte, error) {
	rec, err := m.record(keyID)
	if err != nil {
		return nil, err
	}
	if rec.Current.Private == nil {
		return nil, fmt.Errorf("%w: no private key held for %s", ErrKeyManagement, keyID)
	}
	return signWith(rec.Current.Private, payload)
}

// Verify implements KMS.
func (m *Memory) Verify(keyID string, payload, signature []byte) error {
	rec, err := m.record(keyID)
	if err != nil {
		return err
	}
	if err := verifyWith(rec.Current.Public, payload, signature); err == nil {
		return nil
	}
	if rec.Previous != nil {
		if err := verifyWith(rec.Previous.Public, payload, signature); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: signature verification failed for %s", ErrKeyManagement, keyID)
}

// PublicKey implements KMS.
func (m *Memory) PublicKey(keyID string) (string, error) {
	rec, err := m.record(keyID)
	if err != nil {
		return "", err
	}
	return rec.Current.PublicPEM()
}

// PreviousPublicKey implements KMS.
func (m *Memory) PreviousPublicKey(keyID string) (string, error) {
	rec, err := m.record(keyID)
	if err != nil {
		return "", err
	}
	if rec.Previous == nil {
		return "", fmt.Errorf("%w: no previous key for %s", ErrKeyNotFound, keyID)
	}
	return rec.Previous.PublicPEM()
}

// PrivateKey implements KMS.
func (m *Memory) PrivateKey(keyID string) (string, error) {
	rec, err := m.record(keyID)
	if err != nil {
		return "", err
	}
	return rec.Current.PrivatePEM()
}

// Import implements KMS.
func (m *Memory) Import(keyID, publicPEM, privatePEM string) error {
	key, err := importedKey(publicPEM, privatePEM)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyID] = &Record{Current: key}
	return nil
}
