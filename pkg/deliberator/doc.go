/*
Package deliberator proposes cluster Actions toward active goals. The
Planner interface is implemented by NoOpPlanner, which always returns a
single NoOp action, and OracleClient, which delegates to an OpenAI-compatible
chat completions endpoint treated strictly as a black box.
*/
package deliberator
