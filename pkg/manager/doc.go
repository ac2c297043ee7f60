/*
Package manager holds the small node-local pieces of cluster membership
that don't belong in the replicated state machine: enrollment token
issuance and validation, consumed by pkg/httpapi's enroll handler.
*/
package manager
