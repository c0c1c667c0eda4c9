/*
Package session implements the backend half of the agent session protocol.

The Controller owns every Session: it validates instructions, sequences
Rounds, calls the Instruction Interpreter and the Markup Merger under a
bounded timeout, and publishes the resolved Round through a Notifier.

Access to a session is serialized through a reference-counted lock table,
optionally backed by a distributed lock when several replicas share one
store. Locks are held only while a session is loaded, modified and saved;
upstream calls run unlocked, and the pending Round is what keeps a second
request out (it fails fast with domain.ErrRoundInFlight).
*/
package session
