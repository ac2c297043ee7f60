/*
Package tracker keeps the in-memory ledger of actions proposed by the
deliberator: what's pending, what's executing, what succeeded or
failed after retries, and per-goal progress notes. Tracker state is
local to a node and never replicated through Raft.
*/
package tracker
