/*
Package sync keeps each network's member list (SyncNode/SyncRequest)
and per-node data index (SyncIndex) eventually consistent across peers
on a 24h, jittered-once-at-startup cadence.

# See Also

  - pkg/reconciler's ticker/select loop is this package's model for run()
  - pkg/storage holds the Node/data-index state this package reconciles
*/
package sync
