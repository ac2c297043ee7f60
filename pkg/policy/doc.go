/*
Package policy validates Actions proposed by the deliberator against an
ExecutionPolicy and the current cluster snapshot before they reach the
Raft log: referenced nodes/tasks/goals/attachments must exist, task
payloads must be policy-allowed, and sync paths must stay within the
configured allow/block lists.
*/
package policy
