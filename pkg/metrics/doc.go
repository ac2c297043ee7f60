/*
Package metrics defines and registers fleetd's Prometheus metrics: cluster
gauges (nodes/tasks/attachments/goals), Raft health, HTTP API request
counters/histograms, task runner outcomes, and deliberation/tracker
counters. Handler exposes them for scraping; Timer is a small helper for
recording histogram observations around a block of code.

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TaskExecutionDuration, string(payload.Kind))
*/
package metrics
