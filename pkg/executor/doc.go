/*
Package executor turns validated Actions into Raft commands and drives
locally-targeted Tasks through the runner, reporting status transitions
back through the same Applier the actions were submitted on.
*/
package executor
