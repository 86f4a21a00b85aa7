package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuxx/wayvid/internal/types"
)

func TestCommandsArriveInSendOrder(t *testing.T) {
	h := NewHandle()

	sent := []Command{
		ApplyWallpaper{Source: types.FileSource("/v/a.mp4"), Output: "DP-1"},
		Pause{Output: "DP-1"},
		SetVolume{Output: "DP-1", Volume: 0.5},
		Resume{Output: "DP-1"},
		ClearWallpaper{Output: "DP-1"},
	}
	for _, cmd := range sent {
		require.NoError(t, h.Send(cmd))
	}

	for i, want := range sent {
		got := <-h.Commands()
		assert.Equal(t, want, got, "command %d out of order", i)
	}
}

func TestSendReportsBusyWhenQueueStaysFull(t *testing.T) {
	h := NewHandle()
	for i := 0; i < DefaultQueueDepth; i++ {
		require.NoError(t, h.Send(Pause{}))
	}
	err := h.Send(Pause{})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSendAfterCloseFails(t *testing.T) {
	h := NewHandle()
	h.Close()
	assert.ErrorIs(t, h.Send(Quit{}), ErrClosed)
}

func TestEmitNeverBlocksTheEngine(t *testing.T) {
	h := NewHandle()
	// Nobody drains the event channel; emitting far past its capacity must
	// not wedge.
	for i := 0; i < DefaultQueueDepth*3; i++ {
		h.Emit(WallpaperApplied{Output: "DP-1", Source: types.FileSource("/v/a.mp4")})
	}
	// The newest events survive.
	ev := <-h.Events()
	_, ok := ev.(WallpaperApplied)
	assert.True(t, ok)
}

func TestEventOrderingPreserved(t *testing.T) {
	h := NewHandle()
	h.Emit(OutputRemoved{Name: "DP-1"})
	h.Emit(WallpaperCleared{Output: "DP-1"})

	first := <-h.Events()
	second := <-h.Events()
	assert.Equal(t, OutputRemoved{Name: "DP-1"}, first)
	assert.Equal(t, WallpaperCleared{Output: "DP-1"}, second)
}
