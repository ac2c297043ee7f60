/*
Package types defines the core data structures shared across fleetd: nodes,
tasks and their payloads, attachments, goals, the replicated commands that
carry mutations through consensus, and the actions a deliberator proposes.

These types are intentionally plain (no methods beyond simple lookups on
Snapshot) so that pkg/statemachine, pkg/policy, pkg/tracker and pkg/runner
can all operate on the same vocabulary without importing each other.

Command is the wire format carried by the Raft log: Op selects which of the
*Data structs Command.Data decodes into. Task/Attachment carry their own
Kind-tagged payload/spec structs rather than being Go interfaces, so that
JSON encoding (used for both the API and Raft snapshots) needs no custom
marshalers.
*/
package types
