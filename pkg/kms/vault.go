package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// SecretBackend is the storage abstraction the Vault driver keeps key
// material behind, so a real Vault (or any KV secret store) client can be
// substituted without touching KMS callers.
type SecretBackend interface {
	Get(path string) ([]byte, error)
	Put(path string, value []byte) error
}

// Vault is a KMS whose key material is encrypted with AES-256-GCM and
// persisted through a SecretBackend, keeping an in-memory cache of
// decrypted Records the same shape as Memory.
type Vault struct {
	backend       SecretBackend
	encryptionKey []byte // 32 bytes, AES-256

	mu    sync.RWMutex
	cache map[string]*Record
}

// NewVault creates a Vault-backed KMS. encryptionKey must be exactly 32
// bytes (AES-256).
func NewVault(backend SecretBackend, encryptionKey []byte) (*Vault, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", ErrKeyManagement, len(encryptionKey))
	}
	return &Vault{
		backend:       backend,
		encryptionKey: encryptionKey,
		cache:         make(map[string]*Record),
	}, nil
}

type recordDER struct {
	CurrentPubDER   []byte
	CurrentPrivDER  []byte // nil when only the public half is held
	PreviousPubDER  []byte // nil when no prior key version exists
	PreviousPrivDER []byte
}

func keyDER(k *Key) (pubDER, privDER []byte, err error) {
	pubDER, err = x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal public key: %v", ErrKeyManagement, err)
	}
	if k.Private != nil {
		privDER = x509.MarshalPKCS1PrivateKey(k.Private)
	}
	return pubDER, privDER, nil
}

func keyFromDER(pubDER, privDER []byte) (*Key, error) {
	parsed, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrKeyManagement, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrKeyManagement)
	}
	key := &Key{Public: pub}
	if privDER != nil {
		priv, err := x509.ParsePKCS1PrivateKey(privDER)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key: %v", ErrKeyManagement, err)
		}
		key.Private = priv
		key.Public = &priv.PublicKey
	}
	return key, nil
}

func (v *Vault) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrKeyManagement, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", ErrKeyManagement, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrKeyManagement, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrKeyManagement, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", ErrKeyManagement, err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrKeyManagement)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", ErrKeyManagement, err)
	}
	return plaintext, nil
}

func (v *Vault) persist(keyID string, rec *Record) error {
	curPub, curPriv, err := keyDER(rec.Current)
	if err != nil {
		return err
	}
	der := recordDER{CurrentPubDER: curPub, CurrentPrivDER: curPriv}
	if rec.Previous != nil {
		prevPub, prevPriv, err := keyDER(rec.Previous)
		if err != nil {
			return err
		}
		der.PreviousPubDER, der.PreviousPrivDER = prevPub, prevPriv
	}
	plaintext, err := json.Marshal(der)
	if err != nil {
		return fmt.Errorf("%w: marshal record: %v", ErrKeyManagement, err)
	}
	ciphertext, err := v.encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := v.backend.Put(secretPath(keyID), ciphertext); err != nil {
		return fmt.Errorf("%w: put: %v", ErrKeyManagement, err)
	}
	return nil
}

func secretPath(keyID string) string {
	return "kms/keys/" + keyID
}

// Generate implements KMS.
func (v *Vault) Generate(keyID string, bits int) (*Key, error) {
	key, err := generateKey(bits)
	if err != nil {
		return nil, err
	}
	rec := &Record{Current: key}
	if err := v.persist(keyID, rec); err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.cache[keyID] = rec
	v.mu.Unlock()
	return key, nil
}

// Rotate implements KMS.
func (v *Vault) Rotate(keyID string, bits int) (*Key, error) {
	key, err := generateKey(bits)
	if err != nil {
		return nil, err
	}
	rec, err := v.record(keyID)
	if err != nil {
		rec = &Record{}
	} else {
		rec.Previous = rec.Current
	}
	rec.Current = key
	if err := v.persist(keyID, rec); err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.cache[keyID] = rec
	v.mu.Unlock()
	return key, nil
}

func (v *Vault) record(keyID string) (*Record, error) {
	v.mu.RLock()
	cached, ok := v.cache[keyID]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ciphertext, err := v.backend.Get(secretPath(keyID))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	plaintext, err := v.decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	var der recordDER
	if err := json.Unmarshal(plaintext, &der); err != nil {
		return nil, fmt.Errorf("%w: unmarshal record: %v", ErrKeyManagement, err)
	}
	cur, err := keyFromDER(der.CurrentPubDER, der.CurrentPrivDER)
	if err != nil {
		return nil, err
	}
	rec := &Record{Current: cur}
	if der.PreviousPubDER != nil {
		prev, err := keyFromDER(der.PreviousPubDER, der.PreviousPrivDER)
		if err != nil {
			return nil, err
		}
		rec.Previous = prev
	}

	v.mu.Lock()
	v.cache[keyID] = rec
	v.mu.Unlock()
	return rec, nil
}

// Sign implements KMS.
func (v *Vault) Sign(keyID string, payload []byte) ([]byte, error) {
	rec, err := v.record(keyID)
	if err != nil {
		return nil, err
	}
	if rec.Current.Private == nil {
		return nil, fmt.Errorf("%w: no private key held for %s", ErrKeyManagement, keyID)
	}
	return signWith(rec.Current.Private, payload)
}

// Verify implements KMS.
func (v *Vault) Verify(keyID string, payload, signature []byte) error {
	rec, err := v.record(keyID)
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
func (v *Vault) PublicKey(keyID string) (string, error) {
	rec, err := v.record(keyID)
	if err != nil {
		return "", err
	}
	return rec.Current.PublicPEM()
}

// PreviousPublicKey implements KMS.
func (v *Vault) PreviousPublicKey(keyID string) (string, error) {
	rec, err := v.record(keyID)
	if err != nil {
		return "", err
	}
	if rec.Previous == nil {
		return "", fmt.Errorf("%w: no previous key for %s", ErrKeyNotFound, keyID)
	}
	return rec.Previous.PublicPEM()
}

// PrivateKey implements KMS.
func (v *Vault) PrivateKey(keyID string) (string, error) {
	rec, err := v.record(keyID)
	if err != nil {
		return "", err
	}
	return rec.Current.PrivatePEM()
}

// Import implements KMS.
func (v *Vault) Import(keyID, publicPEM, privatePEM string) error {
	key, err := importedKey(publicPEM, privatePEM)
	if err != nil {
		return err
	}
	rec := &Record{Current: key}
	if err := v.persist(keyID, rec); err != nil {
		return err
	}
	v.mu.Lock()
	v.cache[keyID] = rec
	v.mu.Unlock()
	return nil
}
