// Package checkpoint persists plan checkpoints in SQLite so that a later run
// can resume from the last phase boundary a previous run reached.
//
// Usage:
//
//	store, err := checkpoint.NewStore(checkpoint.Config{DBPath: "checkpoints.db"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	off := store.Attach(runner.Emitter())
//	defer off()
//
//	state, err := store.Resume(ctx, plan.ID)
package checkpoint
