// Package runner walks an execution plan phase by phase on top of a
// scheduler. It applies phase dependency gates, step fallbacks, the
// fail-fast abort policy and checkpoint capture, and reports progress through
// the event emitter.
//
// State machine of a run: not_started -> running -> completed | aborted.
package runner
