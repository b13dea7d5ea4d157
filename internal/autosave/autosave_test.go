package autosave_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/velodb/vela/internal/autosave"
)

func TestRecordOp_FlushesImmediatelyAtOpThreshold(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{Ops: 3}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.RecordOp()
	d.RecordOp()
	assert.Equal(t, int32(0), atomic.LoadInt32(&flushes))
	assert.Equal(t, 2, d.Pending())

	d.RecordOp()
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
	assert.Equal(t, 0, d.Pending())
}

func TestRecordOp_DebounceFiresAfterWait(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{WaitMs: 20}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.RecordOp()
	assert.Equal(t, int32(0), atomic.LoadInt32(&flushes))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
}

func TestRecordOp_DebounceResetsOnEachOp(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{WaitMs: 30}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.RecordOp()
	time.Sleep(15 * time.Millisecond)
	d.RecordOp() // resets the 30ms window
	time.Sleep(15 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&flushes), "timer should have been reset by the second op")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
}

func TestRecordOp_MaxWaitForcesFlushUnderContinuousOps(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{WaitMs: 20, MaxWaitMs: 40}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	stop := time.After(80 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			d.RecordOp()
		case <-stop:
			break loop
		}
	}

	assert.True(t, atomic.LoadInt32(&flushes) >= 1, "maxWaitMs should have forced at least one flush")
}

func TestFlush_NoopWhenNothingPending(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{WaitMs: 1000}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.Flush()
	assert.Equal(t, int32(0), atomic.LoadInt32(&flushes))
}

func TestFlush_ForcesImmediateFlushOfPending(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{WaitMs: 1000}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.RecordOp()
	d.Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
	assert.Equal(t, 0, d.Pending())
}

func TestDispose_FlushesPendingBestEffortAndCancelsTimer(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{WaitMs: 1000}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.RecordOp()
	d.Dispose()
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))

	// further ops are ignored after disposal.
	d.RecordOp()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
}

func TestDispose_NoopWhenNothingPending(t *testing.T) {
	var flushes int32

	d := autosave.New(autosave.Policy{WaitMs: 1000}, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.Dispose()
	assert.Equal(t, int32(0), atomic.LoadInt32(&flushes))
}

func TestDispose_Idempotent(t *testing.T) {
	d := autosave.New(autosave.Policy{Ops: 1}, func() {})

	d.Dispose()
	assert.NotPanics(t, func() { d.Dispose() })
}
