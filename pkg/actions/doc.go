// Package actions maps step actions to handler functions. A Registry is a
// task.Handler: it looks the action up by task kind, validates the step
// params against the action's parameter schema and runs it.
//
// Built-in actions:
//
//	echo   returns its message
//	sleep  waits for a duration, honoring cancellation
//	fail   fails, optionally only for the first N attempts
//	shell  runs a command through the configured shell (opt-in)
package actions
