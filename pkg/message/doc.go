/*
Package message is the envelope type and catalog registry shared by
every protocol package: connection, admission, routing, sync all speak
in terms of a message.Envelope resolved against a message.Registry.

# See Also

  - pkg/connection dispatches inbound envelopes via Registry.Lookup
  - pkg/engine loads catalog files into the Registry at startup
*/
package message
