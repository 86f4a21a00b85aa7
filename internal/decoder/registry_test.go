package decoder

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuxx/wayvid/internal/types"
)

type fakePipeline struct {
	mu        sync.Mutex
	destroyed int
}

func (f *fakePipeline) Destroy() {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
}

func fileKey(path string) types.SourceKey {
	return types.SourceKey{Source: types.FileSource(path)}
}

func newTestRegistry() (*Registry, *[]*fakePipeline) {
	var created []*fakePipeline
	var mu sync.Mutex
	r := NewRegistry(func(types.SourceKey) (Pipeline, error) {
		p := &fakePipeline{}
		mu.Lock()
		created = append(created, p)
		mu.Unlock()
		return p, nil
	})
	return r, &created
}

func TestAcquireSharesOnePipeline(t *testing.T) {
	r, created := newTestRegistry()
	key := fileKey("/videos/a.mp4")

	ref1, isNew, err := r.Acquire(key)
	require.NoError(t, err)
	assert.True(t, isNew)

	ref2, isNew, err := r.Acquire(key)
	require.NoError(t, err)
	assert.False(t, isNew)

	assert.Len(t, *created, 1)
	assert.Same(t, ref1.Pipeline(), ref2.Pipeline())
	assert.Equal(t, 2, r.Refs(key))
	assert.Equal(t, 1, r.Len())
}

func TestBalancedReleaseTearsDownOnce(t *testing.T) {
	r, created := newTestRegistry()
	key := fileKey("/videos/a.mp4")

	var refs []*Ref
	for i := 0; i < 5; i++ {
		ref, _, err := r.Acquire(key)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	for _, ref := range refs {
		r.Release(ref)
	}

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Refs(key))
	require.Len(t, *created, 1)
	assert.Equal(t, 1, (*created)[0].destroyed)
}

func TestDoubleReleaseIsHarmless(t *testing.T) {
	r, created := newTestRegistry()
	ref, _, err := r.Acquire(fileKey("/videos/a.mp4"))
	require.NoError(t, err)
	r.Release(ref)
	r.Release(ref)
	assert.Equal(t, 1, (*created)[0].destroyed)
	assert.Equal(t, 0, r.Len())
}

func TestDistinctParamsGetDistinctPipelines(t *testing.T) {
	r, created := newTestRegistry()
	source := types.FileSource("/videos/a.mp4")

	_, isNew, err := r.Acquire(types.SourceKey{Source: source})
	require.NoError(t, err)
	assert.True(t, isNew)

	_, isNew, err = r.Acquire(types.SourceKey{
		Source: source,
		Params: types.DecodeParams{Hwdec: types.HwdecOff},
	})
	require.NoError(t, err)
	assert.True(t, isNew)

	_, isNew, err = r.Acquire(types.SourceKey{
		Source: source,
		Params: types.DecodeParams{StartTime: 10},
	})
	require.NoError(t, err)
	assert.True(t, isNew)

	assert.Len(t, *created, 3)
	assert.Equal(t, 3, r.Len())
}

func TestFactoryErrorPropagates(t *testing.T) {
	boom := errors.New("no decoder")
	r := NewRegistry(func(types.SourceKey) (Pipeline, error) { return nil, boom })
	_, _, err := r.Acquire(fileKey("/x"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentBalancedInterleavings(t *testing.T) {
	r, created := newTestRegistry()
	key := fileKey("/videos/shared.mkv")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ref, _, err := r.Acquire(key)
				if err != nil {
					t.Error(err)
					return
				}
				r.Release(ref)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	for _, p := range *created {
		assert.Equal(t, 1, p.destroyed)
	}
}

func TestConsumersTrackFrameSequences(t *testing.T) {
	r, _ := newTestRegistry()
	ref, _, err := r.Acquire(fileKey("/videos/a.mp4"))
	require.NoError(t, err)

	c1 := r.RegisterConsumer("DP-1", ref)
	c2 := r.RegisterConsumer("HDMI-A-1", ref)

	seq := r.FrameArrived(ref)
	seq = r.FrameArrived(ref)
	assert.Equal(t, uint64(2), seq)

	assert.True(t, c1.Behind(seq))
	c1.LastSeq = seq
	assert.False(t, c1.Behind(r.CurrentSeq(ref)))

	// A slow consumer skips to the latest frame; nothing is replayed.
	assert.True(t, c2.Behind(seq))
	c2.LastSeq = r.CurrentSeq(ref)
	assert.False(t, c2.Behind(r.CurrentSeq(ref)))

	r.UnregisterConsumer("DP-1", ref)
	r.UnregisterConsumer("HDMI-A-1", ref)
	r.Release(ref)
}

func TestMarkFailedReportsOnlyOnce(t *testing.T) {
	r, _ := newTestRegistry()
	ref, _, err := r.Acquire(fileKey("/videos/a.mp4"))
	require.NoError(t, err)

	assert.True(t, r.MarkFailed(ref, fmt.Errorf("codec error")))
	assert.False(t, r.MarkFailed(ref, fmt.Errorf("codec error")))
	assert.True(t, r.Failed(ref))

	// A fresh acquire after failure builds a new pipeline.
	ref2, isNew, err := r.Acquire(fileKey("/videos/a.mp4"))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.False(t, r.Failed(ref2))
}

func TestRekeyMovesSoleOwner(t *testing.T) {
	r, created := newTestRegistry()
	oldKey := fileKey("/videos/a.mp4")
	newKey := fileKey("/videos/b.mp4")

	ref, _, err := r.Acquire(oldKey)
	require.NoError(t, err)

	require.True(t, r.Rekey(ref, newKey))
	assert.Equal(t, 0, r.Refs(oldKey))
	assert.Equal(t, 1, r.Refs(newKey))
	assert.Equal(t, newKey, ref.Key())
	assert.Len(t, *created, 1)

	// Shared entries refuse to rekey.
	ref2, _, err := r.Acquire(newKey)
	require.NoError(t, err)
	assert.False(t, r.Rekey(ref2, fileKey("/videos/c.mp4")))
}
