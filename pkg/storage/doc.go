/*
Package storage persists Networks, Nodes, admission AdmissionRecords, and
UserMappings behind the Store interface.

Memory keeps everything in maps guarded by a single RWMutex; Document
keeps the same records in a BoltDB file, one bucket per entity, JSON
encoded, with nested (networkID, id) keys for nodes and users.

# See Also

  - pkg/engine wires a Store driver in at startup based on DATABASE_DRIVER
  - pkg/admission persists AdmissionRecords via MessageRepository
*/
package storage
