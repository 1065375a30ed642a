/*
Package admission drives the join/invite handshake: Join/Invite
originate a signed request, HandleRequest/HandleResponse process the
inbound legs, and Decide implements the operator's accept/reject call.
ChallengeStore is the proof-of-work anti-spam gate in front of
HandleRequest.

# See Also

  - pkg/pow supplies Solve/Verify
  - pkg/kms supplies the Signer/KeyManager adapter
  - pkg/httpapi maps returned errors to HTTP status codes
*/
package admission
