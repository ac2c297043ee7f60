/*
Package daemon is the composition root for a fleetd node. It binds one
listener, splits it between the Raft transport and the HTTP control API
via cmux, and drives three background loops: heartbeat (health and
metrics), task runner (locally-targeted pending tasks), and planner
(leader-only goal-directed action proposals).
*/
package daemon
