package kms

import "encoding/base64"

// SignerAdapter exposes a KMS driver as a base64-string signer/verifier,
// the shape pkg/transport and pkg/admission depend on so neither needs
// to import crypto/rsa or know how signatures are encoded on the wire.
type SignerAdapter struct {
	KMS KMS
}

// NewSignerAdapter wraps kms as a SignerAdapter.
func NewSignerAdapter(kms KMS) *SignerAdapter {
	return &SignerAdapter{KMS: kms}
}

// Sign signs payload with keyID's current key and base64-encodes the result.
func (a *SignerAdapter) Sign(keyID string, payload []byte) (string, error) {
	sig, err := a.KMS.Sign(keyID, payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify decodes a base64 signature and checks it against keyID's keys.
func (a *SignerAdapter) Verify(keyID string, payload []byte, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return err
	}
	return a.KMS.Verify(keyID, payload, sig)
}

// Generate creates a fresh node key for keyID.
func (a *SignerAdapter) Generate(keyID string) error {
	_, err := a.KMS.Generate(keyID, NodeKeyBits)
	return err
}

// GenerateManagement creates a fresh, wider management key for keyID,
// used once per network at POST /manage/networks creation time.
func (a *SignerAdapter) GenerateManagement(keyID string) error {
	_, err := a.KMS.Generate(keyID, ManagementKeyBits)
	return err
}

// PublicKey returns the PEM-encoded current public key for keyID.
func (a *SignerAdapter) PublicKey(keyID string) (string, error) {
	return a.KMS.PublicKey(keyID)
}

// PreviousPublicKey returns the PEM-encoded key that Current replaced at
// the last rotation of keyID, if any.
func (a *SignerAdapter) PreviousPublicKey(keyID string) (string, error) {
	return a.KMS.PreviousPublicKey(keyID)
}

// PrivateKey returns the PEM-encoded current private key for keyID.
func (a *SignerAdapter) PrivateKey(keyID string) (string, error) {
	return a.KMS.PrivateKey(keyID)
}

// Import stores an externally received keypair under keyID. privatePEM
// may be empty when only the public half is available.
func (a *SignerAdapter) Import(keyID, publicPEM, privatePEM string) error {
	return a.KMS.Import(keyID, publicPEM, privatePEM)
}
