/*
Package broker hands payloads between the connection layer and whatever is
waiting on them: an outbound mailbox per peer, and a response mailbox per
in-flight message id.

Both queues are FIFO per key and deliver at most once. The memory driver
keeps them as buffered channels guarded by a mutex; the redis driver keeps
them as list keys behind a QueueBackend (RPush/BLPop) so a real Redis
client can be substituted without changing callers.

# See Also

  - pkg/connection drains the outbound mailbox when a link to a peer is up
  - pkg/routing blocks on ResponseStream while awaiting a route response
*/
package broker
