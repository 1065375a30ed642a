package admission

import "github.com/meshfed/gatewayd/pkg/kms"

// verifyPEM checks an RSA-PSS(SHA-256) signature against a PEM-encoded
// PKIX public key, used for the trust-on-first-use check on an
// AuthRequest/AuthInvite where no prior key exchange exists yet.
func verifyPEM(publicKeyPEM string, payload, signature []byte) error {
	return kms.VerifyPEM(publicKeyPEM, payload, signature)
}
