/*
Package ports defines the driven ports (interfaces) of the agent session protocol.

These interfaces decouple the controller, the orchestrator and the caches from
concrete storage backends, upstream model providers and host platforms.

# Key Interfaces

  - SessionStore: persists Sessions owned by the controller.
  - RecordStore: persists immutable ShareRecords.
  - KVStore: the host key-value storage used for page snapshots and session pointers.
  - Interpreter and Merger: the upstream services that decide and apply edits.
  - Host: the page primitives (apply markup, screenshot, error log).
  - Backend: the controller as seen from the client side.
  - Notifier: the transport-agnostic push sink.
  - DistributedLocker: distributed locking for concurrent session access.
*/
package ports
