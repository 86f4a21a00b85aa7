package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func msTracker(targetFPS float64) *Tracker {
	return NewTracker(targetFPS, 0)
}

func TestTargetFromRefresh(t *testing.T) {
	tr := NewTracker(0, 144000)
	assert.InDelta(t, float64(time.Second)/144, float64(tr.Target()), float64(time.Millisecond))

	tr = NewTracker(30, 144000)
	assert.Equal(t, time.Second/30, tr.Target())
}

func TestEnterSkipAfterThreeOverloadedFrames(t *testing.T) {
	tr := msTracker(60) // ~16.6ms budget

	over := 15 * time.Millisecond // load ~0.9
	tr.Record(over)
	assert.False(t, tr.Skipping())
	tr.Record(over)
	assert.False(t, tr.Skipping())
	tr.Record(over)
	assert.True(t, tr.Skipping())
}

func TestSingleOverloadedFrameDoesNotSkip(t *testing.T) {
	tr := msTracker(60)
	tr.Record(20 * time.Millisecond)
	tr.Record(5 * time.Millisecond)
	tr.Record(20 * time.Millisecond)
	tr.Record(5 * time.Millisecond)
	assert.False(t, tr.Skipping())
}

func TestExitSkipWhenLoadDrops(t *testing.T) {
	tr := msTracker(60)
	for i := 0; i < 3; i++ {
		tr.Record(16 * time.Millisecond)
	}
	assert.True(t, tr.Skipping())

	// Fast frames drag the ring average under the exit threshold.
	for i := 0; i < 60 && tr.Skipping(); i++ {
		tr.Record(2 * time.Millisecond)
	}
	assert.False(t, tr.Skipping())
}

func TestNeverTwoConsecutiveSkips(t *testing.T) {
	tr := msTracker(60)
	for i := 0; i < 3; i++ {
		tr.Record(16 * time.Millisecond)
	}
	assert.True(t, tr.Skipping())

	skippedPrev := false
	for i := 0; i < 100; i++ {
		rendered := tr.ShouldRender()
		if !rendered {
			assert.False(t, skippedPrev, "two consecutive presents skipped at step %d", i)
		}
		skippedPrev = !rendered
	}
}

func TestNotSkippingRendersEverything(t *testing.T) {
	tr := msTracker(60)
	for i := 0; i < 10; i++ {
		assert.True(t, tr.ShouldRender())
	}
}

func TestTransitionsCountEdges(t *testing.T) {
	tr := msTracker(60)
	for i := 0; i < 3; i++ {
		tr.Record(16 * time.Millisecond)
	}
	assert.Equal(t, 1, tr.Transitions())
	for i := 0; i < 60 && tr.Skipping(); i++ {
		tr.Record(time.Millisecond)
	}
	assert.Equal(t, 2, tr.Transitions())
}
