/*
Package domain contains the core models of the agent session protocol.

It defines the entities shared by the backend controller, the client
orchestrator and the storage adapters. The package is kept free of I/O so it
can be imported from every layer.

# Key Entities

  - Session: a long-lived conversation bound to one page context.
  - Round: one instruction → mutation → observation cycle inside a Session.
  - Observation: the structured post-mutation report collected on the client.
  - PageSnapshot: cached page markup used to restore state across reloads.
  - ShareRecord: an opaquely keyed, expiring snapshot of modified markup.
  - Event: a push notification emitted when a Round resolves.
*/
package domain
