/*
Package kms issues and tracks the RSA keypairs used to sign outbound
network messages and verify inbound ones.

Two drivers implement the same KMS contract:

  - Memory keeps keys in a mutex-guarded map, used for tests and
    single-process deployments.
  - Vault keeps keys encrypted at rest (AES-256-GCM) behind a
    SecretBackend, so a real secret-management service can be substituted
    without changing callers.

Rotating a key retains the outgoing key as Previous: Verify tries Current
first and falls back to Previous, so messages signed moments before a
rotation still verify.

# See Also

  - pkg/admission uses node keys to authenticate an admitted peer
  - pkg/transport's PostMessage signs envelopes and carries the signature
    in the {message, signature} request body
*/
package kms
