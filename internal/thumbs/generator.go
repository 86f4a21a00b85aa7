// Package thumbs generates and caches wallpaper thumbnails in the background.
package thumbs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/chai2010/webp"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/tuxx/wayvid/internal/library"
)

// maxWorkers caps the pool regardless of CPU count.
const maxWorkers = 4

// memCacheEntries bounds the in-memory LRU handed to the GUI.
const memCacheEntries = 100

// Job is one thumbnail request.
type Job struct {
	ItemID     string
	SourcePath string
}

// Generator runs a bounded worker pool extracting thumbnails to the disk
// cache. Submissions for an item already pending or generating are no-ops.
type Generator struct {
	store    *library.Store
	cacheDir string

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan Job
	pool   *pool.Pool
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
	paused   bool
	resumed  *sync.Cond

	memCache *ristretto.Cache[string, []byte]
}

// NewGenerator creates the worker pool. Workers are min(GOMAXPROCS, 4).
func NewGenerator(store *library.Store, cacheDir string) (*Generator, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}

	memCache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: memCacheEntries * 10,
		MaxCost:     memCacheEntries,
		BufferItems: 64,
		Cost:        func([]byte) int64 { return 1 },
	})
	if err != nil {
		return nil, fmt.Errorf("create thumbnail cache: %w", err)
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > maxWorkers {
		workers = maxWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Generator{
		store:    store,
		cacheDir: cacheDir,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan Job, 256),
		pool:     pool.New().WithMaxGoroutines(workers),
		inFlight: make(map[string]bool),
		memCache: memCache,
	}
	g.resumed = sync.NewCond(&g.mu)

	g.wg.Add(1)
	go g.dispatch()
	return g, nil
}

// Path returns the disk-cache location for an item id. Distinct ids can never
// collide: the filename is the id itself.
func (g *Generator) Path(itemID string) string {
	return filepath.Join(g.cacheDir, itemID+".webp")
}

// Request enqueues a thumbnail job. Returns false if the item is already
// queued or being generated, or the queue is full.
func (g *Generator) Request(job Job) bool {
	g.mu.Lock()
	if g.inFlight[job.ItemID] {
		g.mu.Unlock()
		return false
	}
	g.inFlight[job.ItemID] = true
	g.mu.Unlock()

	select {
	case g.jobs <- job:
		return true
	default:
		g.mu.Lock()
		delete(g.inFlight, job.ItemID)
		g.mu.Unlock()
		log.Warn().Str("item", job.ItemID).Msg("thumbnail queue full, dropping request")
		return false
	}
}

// Pause stops dispatching new jobs; running jobs finish. Used under memory
// pressure.
func (g *Generator) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

// Resume restarts dispatch after Pause.
func (g *Generator) Resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.resumed.Broadcast()
}

// Cached returns the encoded thumbnail bytes for an item from the memory LRU
// or the disk cache.
func (g *Generator) Cached(itemID string) ([]byte, bool) {
	if data, ok := g.memCache.Get(itemID); ok {
		return data, true
	}
	data, err := os.ReadFile(g.Path(itemID))
	if err != nil {
		return nil, false
	}
	g.memCache.Set(itemID, data, 1)
	return data, true
}

// Invalidate drops an item from both cache tiers.
func (g *Generator) Invalidate(itemID string) {
	g.memCache.Del(itemID)
	os.Remove(g.Path(itemID))
}

// Close cancels in-flight jobs and waits for the workers to observe it.
func (g *Generator) Close() {
	g.cancel()
	g.mu.Lock()
	g.resumed.Broadcast()
	g.mu.Unlock()
	close(g.jobs)
	g.wg.Wait()
	g.pool.Wait()
	g.memCache.Close()
}

func (g *Generator) dispatch() {
	defer g.wg.Done()
	for job := range g.jobs {
		g.mu.Lock()
		for g.paused {
			if g.ctx.Err() != nil {
				g.mu.Unlock()
				return
			}
			g.resumed.Wait()
		}
		g.mu.Unlock()

		if g.ctx.Err() != nil {
			return
		}
		job := job
		g.pool.Go(func() { g.run(job) })
	}
}

func (g *Generator) run(job Job) {
	defer func() {
		g.mu.Lock()
		delete(g.inFlight, job.ItemID)
		g.mu.Unlock()
	}()

	if g.ctx.Err() != nil {
		return
	}

	if err := g.store.SetThumbnailStatus(job.ItemID, library.ThumbGenerating, "", ""); err != nil {
		log.Warn().Str("item", job.ItemID).Err(err).Msg("thumbnail status update failed")
	}

	img, err := extractFrame(g.ctx, job.SourcePath)
	if err != nil {
		if g.ctx.Err() != nil {
			return
		}
		log.Debug().Str("item", job.ItemID).Err(err).Msg("thumbnail extraction failed")
		g.fail(job.ItemID, "extract")
		return
	}

	// Cancellation checkpoint between decode and encode.
	if g.ctx.Err() != nil {
		return
	}

	data, err := webp.EncodeRGBA(fitInBox(img), 80)
	if err != nil {
		g.fail(job.ItemID, "encode")
		return
	}

	path := g.Path(job.ItemID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		g.fail(job.ItemID, "write")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		g.fail(job.ItemID, "write")
		return
	}

	g.memCache.Set(job.ItemID, data, 1)
	if err := g.store.SetThumbnailStatus(job.ItemID, library.ThumbDone, path, ""); err != nil {
		log.Warn().Str("item", job.ItemID).Err(err).Msg("thumbnail status update failed")
	}
}

func (g *Generator) fail(itemID, tag string) {
	if err := g.store.SetThumbnailStatus(itemID, library.ThumbFailed, "", tag); err != nil {
		log.Warn().Str("item", itemID).Err(err).Msg("thumbnail status update failed")
	}
}
