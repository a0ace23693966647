package events

import (
	"sync"
	"testing"

	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_OnDeliversByKind(t *testing.T) {
	em := NewEmitterWithLogger(zerolog.Nop())

	var got []Event
	em.On(KindWorkerSpawned, func(ev Event) { got = append(got, ev) })

	em.Emit(NewWorkerSpawned("w-1"))
	em.Emit(NewWorkerRemoved("w-1"))

	require.Len(t, got, 1)
	assert.Equal(t, KindWorkerSpawned, got[0].Kind())
	assert.Equal(t, "w-1", got[0].(WorkerSpawned).WorkerID)
	assert.False(t, got[0].Timestamp().IsZero())
}

func TestEmitter_Unsubscribe(t *testing.T) {
	em := NewEmitterWithLogger(zerolog.Nop())

	count := 0
	off := em.On(KindStart, func(Event) { count++ })

	em.Emit(NewStart(3))
	off()
	em.Emit(NewStart(3))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, em.HandlerCount(KindStart))
}

func TestEmitter_OffRemovesAllForKind(t *testing.T) {
	em := NewEmitterWithLogger(zerolog.Nop())

	count := 0
	em.On(KindTaskRetry, func(Event) { count++ })
	em.On(KindTaskRetry, func(Event) { count++ })

	em.Emit(NewTaskRetry("t", 1, "boom"))
	em.Off(KindTaskRetry)
	em.Emit(NewTaskRetry("t", 2, "boom"))

	assert.Equal(t, 2, count)
}

func TestEmitter_OnAll(t *testing.T) {
	em := NewEmitterWithLogger(zerolog.Nop())

	var kinds []Kind
	off := em.OnAll(func(ev Event) { kinds = append(kinds, ev.Kind()) })

	em.Emit(NewStart(1))
	em.Emit(NewTaskComplete(task.Result{TaskID: "t"}))
	off()
	em.Emit(NewStart(1))

	assert.Equal(t, []Kind{KindStart, KindTaskComplete}, kinds)
}

func TestEmitter_PanickingHandlerIsIsolated(t *testing.T) {
	em := NewEmitterWithLogger(zerolog.Nop())

	delivered := false
	em.On(KindStart, func(Event) { panic("boom") })
	em.On(KindStart, func(Event) { delivered = true })

	assert.NotPanics(t, func() { em.Emit(NewStart(1)) })
	assert.True(t, delivered)
}

func TestEmitter_NilSafe(t *testing.T) {
	var em *Emitter
	assert.NotPanics(t, func() { em.Emit(NewStart(1)) })
}

func TestSubscribe_Typed(t *testing.T) {
	em := NewEmitterWithLogger(zerolog.Nop())

	var results []task.Result
	Subscribe(em, func(ev TaskComplete) { results = append(results, ev.Result) })

	var checkpoints []plan.Checkpoint
	Subscribe(em, func(ev CheckpointCaptured) { checkpoints = append(checkpoints, ev.Checkpoint) })

	em.Emit(NewTaskComplete(task.Result{TaskID: "a", Success: true}))
	em.Emit(NewCheckpointCaptured("p", "r", plan.Checkpoint{ID: "cp"}))
	em.Emit(NewStart(2))

	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].TaskID)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, "cp", checkpoints[0].ID)
}

func TestEmitter_ConcurrentEmit(t *testing.T) {
	em := NewEmitterWithLogger(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	em.On(KindTaskStart, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			em.Emit(NewTaskStart("t", "w", 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}

func TestKinds_AreUnique(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, k := range Kinds {
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
	assert.Len(t, Kinds, 14)
}
