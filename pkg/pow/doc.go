/*
Package pow is the proof-of-work oracle behind admission's anti-spam
challenge: Solve brute-forces a solution for a nonce/difficulty pair,
Verify checks one cheaply.

# See Also

  - pkg/admission issues the ChallengeEntry and calls Verify on response
*/
package pow
