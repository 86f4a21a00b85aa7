// Package decoder deduplicates decode pipelines across outputs showing the
// same source. The registry is keyed by (source, decode params); layout,
// volume and mute stay per-consumer.
package decoder

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tuxx/wayvid/internal/types"
)

// Pipeline is the decoder as seen by the registry. Satisfied by *mpv.Player.
type Pipeline interface {
	Destroy()
}

// Factory builds a pipeline for a key on first acquire.
type Factory func(key types.SourceKey) (Pipeline, error)

// Consumer is one output's registration with a shared decoder. LastSeq is the
// newest frame sequence this consumer has rendered; consumers skip to the
// latest frame and never replay missed ones.
type Consumer struct {
	OutputID string
	LastSeq  uint64

	entry *entry
}

// Ref is an owning handle on a registry entry. Dropping the last ref tears
// the pipeline down.
type Ref struct {
	key      types.SourceKey
	entry    *entry
	registry *Registry
	released bool
}

type entry struct {
	key       types.SourceKey
	pipeline  Pipeline
	refs      int
	seq       uint64
	failed    bool
	consumers map[string]*Consumer
}

// Registry maps source keys to live decode pipelines.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
}

// NewRegistry creates an empty registry using factory for new pipelines.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
	}
}

func keyString(key types.SourceKey) string {
	return fmt.Sprintf("%d|%s|%s|%d|%.3f|%d",
		key.Source.Kind, key.Source.Path, key.Source.URL,
		key.Params.Hwdec, key.Params.StartTime, key.Params.VideoID)
}

// Acquire returns a ref on the pipeline for key, creating it on first use.
// isNew reports whether this call created the pipeline. The pipeline is built
// outside the map lock.
func (r *Registry) Acquire(key types.SourceKey) (*Ref, bool, error) {
	ks := keyString(key)

	r.mu.Lock()
	if e, ok := r.entries[ks]; ok && !e.failed {
		e.refs++
		r.mu.Unlock()
		return &Ref{key: key, entry: e, registry: r}, false, nil
	}
	r.mu.Unlock()

	pipeline, err := r.factory(key)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	// Another acquire may have raced us here while the factory ran.
	if e, ok := r.entries[ks]; ok && !e.failed {
		e.refs++
		r.mu.Unlock()
		pipeline.Destroy()
		return &Ref{key: key, entry: e, registry: r}, false, nil
	}
	e := &entry{
		key:       key,
		pipeline:  pipeline,
		refs:      1,
		consumers: make(map[string]*Consumer),
	}
	r.entries[ks] = e
	r.mu.Unlock()

	log.Debug().Str("key", key.String()).Msg("shared decoder created")
	return &Ref{key: key, entry: e, registry: r}, true, nil
}

// Release drops the ref. Hitting zero tears the pipeline down and removes
// the entry in the same critical section.
func (r *Registry) Release(ref *Ref) {
	if ref == nil || ref.released {
		return
	}
	ref.released = true

	r.mu.Lock()
	e := ref.entry
	e.refs--
	var dead Pipeline
	if e.refs <= 0 {
		dead = e.pipeline
		// A failed entry may already have been displaced by a fresh one under
		// the same key; only remove what we still own.
		ks := keyString(e.key)
		if cur, ok := r.entries[ks]; ok && cur == e {
			delete(r.entries, ks)
		}
	}
	if dead != nil {
		dead.Destroy()
		log.Debug().Str("key", ref.key.String()).Msg("shared decoder destroyed")
	}
	r.mu.Unlock()
}

// Pipeline returns the underlying decoder.
func (ref *Ref) Pipeline() Pipeline {
	return ref.entry.pipeline
}

// Key returns the source key the ref was acquired for.
func (ref *Ref) Key() types.SourceKey { return ref.key }

// RegisterConsumer attaches an output to the ref's decoder for frame-sequence
// tracking.
func (r *Registry) RegisterConsumer(outputID string, ref *Ref) *Consumer {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Consumer{OutputID: outputID, entry: ref.entry}
	ref.entry.consumers[outputID] = c
	return c
}

// UnregisterConsumer detaches an output. Must happen before the session frees
// its own resources.
func (r *Registry) UnregisterConsumer(outputID string, ref *Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(ref.entry.consumers, outputID)
}

// FrameArrived bumps the entry's sequence number; consumers render whatever
// frame is current on their next callback.
func (r *Registry) FrameArrived(ref *Ref) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref.entry.seq++
	return ref.entry.seq
}

// CurrentSeq returns the newest frame sequence for the ref's entry.
func (r *Registry) CurrentSeq(ref *Ref) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ref.entry.seq
}

// Behind reports whether the consumer has not yet rendered the newest frame.
func (c *Consumer) Behind(currentSeq uint64) bool {
	return c.LastSeq < currentSeq
}

// Rekey renames an entry in place when its sole owner hot-swaps the source on
// the same pipeline. Fails when the entry is shared or the new key is taken.
func (r *Registry) Rekey(ref *Ref, newKey types.SourceKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := ref.entry
	if e.refs != 1 {
		return false
	}
	if _, exists := r.entries[keyString(newKey)]; exists {
		return false
	}
	delete(r.entries, keyString(e.key))
	e.key = newKey
	ref.key = newKey
	r.entries[keyString(newKey)] = e
	return true
}

// MarkFailed flags the entry so no further acquire joins it, and reports
// whether this call was the first to fail it. The error is logged once here,
// not once per consumer; consumers fall back to exclusive decoders on their
// next render attempt.
func (r *Registry) MarkFailed(ref *Ref, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref.entry.failed {
		return false
	}
	ref.entry.failed = true
	log.Error().Str("key", ref.key.String()).Err(cause).Msg("shared decoder failed")
	return true
}

// Failed reports whether the ref's entry was marked failed.
func (r *Registry) Failed(ref *Ref) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ref.entry.failed
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Refs returns the ref count for key, zero when absent. Test hook.
func (r *Registry) Refs(key types.SourceKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[keyString(key)]; ok {
		return e.refs
	}
	return 0
}
