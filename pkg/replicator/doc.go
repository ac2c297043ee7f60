/*
Package replicator wraps hashicorp/raft around the cluster state
machine. It owns Raft's log and snapshot persistence, cluster
membership changes, and command submission; it shares its bind address
with the HTTP control API via a caller-supplied listener split off a
cmux mux (see pkg/daemon).
*/
package replicator
