package kms

// VerifyPEM checks an RSA-PSS(SHA-256) signature against a PEM-encoded
// PKIX public key presented directly on the wire, rather than looked up
// by key id through a KMS driver. Used where the verifier has no Record
// for the signer yet — trust-on-first-use admission handshakes, and
// verifying an established peer's inbound application messages against
// the public key stored on its Node record.
func VerifyPEM(publicKeyPEM string, payload, signature []byte) error {
	pub, err := parsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return err
	}
	return verifyWith(pub, payload, signature)
}
