// Package events is the observer registry the scheduler and runner report
// through. Every event is a concrete type carrying a typed payload; the set is
// closed to this package.
//
// Usage:
//
//	em := events.NewEmitter()
//	events.Subscribe(em, func(ev events.TaskComplete) {
//		fmt.Println(ev.Result.TaskID, ev.Result.Success)
//	})
package events
