/*
Package runtime wraps containerd's client API for fleetd's container_run
task payload: pull an image if not cached, run a single container to
completion in the "fleetd" namespace, and tear it down unconditionally.

There is no long-running service management here; fleetd schedules
run-to-completion work, not deployments. Stop/Delete are folded into
RunOnce's own cleanup rather than exposed as separate lifecycle calls.
*/
package runtime
