/*
Package logging provides structured logging for fleetd using zerolog.

It wraps zerolog to give every component a consistently-shaped logger:
JSON or console output selected at startup, a configurable level, and a
handful of With* helpers for attaching component/node/goal/task identifiers
to a child logger rather than repeating Str() calls at every call site.

# Usage

	logging.Init(logging.Config{Level: logging.InfoLevel, JSONOutput: true})

	nodeLog := logging.WithNodeID(cfg.NodeID)
	nodeLog.Info().Msg("node registered")

	taskLog := logging.WithComponent("runner").With().Str("task_id", t.ID).Logger()
	taskLog.Error().Err(err).Msg("task failed")

Fatal exits the process (os.Exit via zerolog's Fatal level) and should only
be used for conditions the daemon cannot start without (see pkg/errs.Fatal
for the error type counterpart used elsewhere).
*/
package logging
