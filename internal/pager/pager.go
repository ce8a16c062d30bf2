// Package pager implements the versioned, dirty-tracked LRU page cache that
// sits between the octree and the storage backend: nodes are kept in memory
// until the cache grows past its configured size, at which point the least
// recently used pages are flushed and evicted in the background.
//
// Eviction races against concurrent loads and stores on the same page.
// Every page carries a version counter and an inCleanup parity counter
// (even: idle, odd: a cleanupOne pass is in flight). cleanupOne marks a
// page odd before it starts encoding and writing it, and only removes it
// afterward if that marker is unchanged; a Load cache-hit or a Store on
// the same page flips the marker back to even first, cancelling the
// removal so the page stays resident instead of being silently lost.
package pager

import (
	"container/list"
	"context"
	"sync"

	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/logger"
	"github.com/arx-os/lidarindex/internal/storage"

	"github.com/arx-os/lidarindex/internal/common/retry"
)

// Codec serializes and deserializes the cached value type to the bytes
// the storage backend persists.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// KeyFunc maps a cache key to the storage backend key (file path / object
// key) it is persisted under.
type KeyFunc[K any] func(key K) string

type entry[V any] struct {
	value     V
	version   uint64
	dirty     bool
	inCleanup uint64 // even: idle, odd: a cleanupOne pass is in flight
	elem      *list.Element
}

// cancelCleanup aborts any cleanup pass in flight for e by making
// inCleanup even again; an already-idle entry is left unchanged. Called on
// every cache hit and every store so a load or write racing a concurrent
// eviction keeps the page resident instead of losing it.
func cancelCleanup[V any](e *entry[V]) {
	e.inCleanup += e.inCleanup % 2
}

// Pager is a generic, size-bounded, write-back page cache in front of a
// storage.Backend. K identifies a page (typically a LeveledCell); V is the
// in-memory page representation (typically a decoded octree node).
type Pager[K comparable, V any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    map[K]*entry[V]
	lru      *list.List
	capacity int

	backend  storage.Backend
	codec    Codec[V]
	keyFn    KeyFunc[K]
	retryCfg retry.Config
	log      *logger.Logger
}

// New creates a pager with the given capacity (in pages), backed by
// backend, translating cache keys to storage keys with keyFn and pages to
// bytes with codec.
func New[K comparable, V any](capacity int, backend storage.Backend, codec Codec[V], keyFn KeyFunc[K], log *logger.Logger) *Pager[K, V] {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Pager[K, V]{
		items:    make(map[K]*entry[V]),
		lru:      list.New(),
		capacity: capacity,
		backend:  backend,
		codec:    codec,
		keyFn:    keyFn,
		retryCfg: retry.DefaultConfig(),
		log:      log.Named("pager"),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Size returns the number of pages currently resident.
func (p *Pager[K, V]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Load returns a page, fetching and decoding it from the backend on a
// cache miss. A miss that is also absent from the backend is reported via
// the backend's own not-found error.
func (p *Pager[K, V]) Load(ctx context.Context, key K) (V, error) {
	var zero V

	p.mu.Lock()
	if e, ok := p.items[key]; ok {
		cancelCleanup(e)
		p.lru.MoveToFront(e.elem)
		v := e.value
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	raw, err := p.backend.Get(ctx, p.keyFn(key))
	if err != nil {
		return zero, idxerrors.IO(p.keyFn(key), "pager: load page", err)
	}
	value, err := p.codec.Decode(raw)
	if err != nil {
		return zero, err
	}
	p.insert(key, value, false)
	return value, nil
}

// LoadOrDefault is Load, but on a backend miss (Exists reports false)
// inserts and returns makeDefault() as a fresh, dirty page instead of
// erroring.
func (p *Pager[K, V]) LoadOrDefault(ctx context.Context, key K, makeDefault func() V) (V, error) {
	p.mu.Lock()
	if e, ok := p.items[key]; ok {
		cancelCleanup(e)
		p.lru.MoveToFront(e.elem)
		v := e.value
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	exists, err := p.backend.Exists(ctx, p.keyFn(key))
	if err != nil {
		var zero V
		return zero, idxerrors.IO(p.keyFn(key), "pager: check page existence", err)
	}
	if !exists {
		value := makeDefault()
		p.insert(key, value, true)
		return value, nil
	}
	return p.Load(ctx, key)
}

// Store writes a page into the cache, marking it dirty so a later cleanup
// pass flushes it to the backend. Store never itself blocks on I/O; call
// BlockOnCacheSize to apply backpressure after a burst of stores.
func (p *Pager[K, V]) Store(key K, value V) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.items[key]; ok {
		e.value = value
		e.version++
		e.dirty = true
		cancelCleanup(e)
		p.lru.MoveToFront(e.elem)
		return
	}
	p.insertLocked(key, value, true)
}

func (p *Pager[K, V]) insert(key K, value V, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(key, value, dirty)
}

func (p *Pager[K, V]) insertLocked(key K, value V, dirty bool) {
	if e, ok := p.items[key]; ok {
		e.value = value
		e.dirty = dirty
		e.version++
		cancelCleanup(e)
		p.lru.MoveToFront(e.elem)
		return
	}
	elem := p.lru.PushFront(key)
	p.items[key] = &entry[V]{value: value, version: 1, dirty: dirty, elem: elem}
}

// CleanupOne evicts the single least recently used page, flushing it first
// if dirty. It is a no-op if the cache is empty or the tail page is
// already mid-eviction from a racing call.
func (p *Pager[K, V]) CleanupOne(ctx context.Context) error {
	p.mu.Lock()
	back := p.lru.Back()
	if back == nil {
		p.mu.Unlock()
		return nil
	}
	key := back.Value.(K)
	e := p.items[key]
	if e.inCleanup%2 == 1 {
		p.mu.Unlock()
		return nil
	}
	e.inCleanup++ // now odd: this pass owns the removal until cancelToken changes
	cancelToken := e.inCleanup
	value := e.value
	dirty := e.dirty
	p.mu.Unlock()

	if dirty {
		encoded, err := p.codec.Encode(value)
		if err != nil {
			p.mu.Lock()
			cancelCleanup(e)
			p.mu.Unlock()
			return idxerrors.NewCacheCleanupError(key, value, err)
		}
		_, result := retry.DoWithData(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.backend.Put(ctx, p.keyFn(key), encoded)
		}, p.retryCfg)
		if !result.Success {
			p.mu.Lock()
			cancelCleanup(e)
			p.mu.Unlock()
			return idxerrors.NewCacheCleanupError(key, value, result.LastError)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e.inCleanup != cancelToken {
		// A Load or Store cancelled this removal (flipped inCleanup back
		// to even) while the flush was in flight: the page stays resident.
		return nil
	}
	e.inCleanup++
	if dirty {
		e.dirty = false
	}
	p.lru.Remove(e.elem)
	delete(p.items, key)
	p.cond.Broadcast()
	return nil
}

// Cleanup evicts pages until the cache is back at or under capacity,
// collecting (not stopping on) individual page flush failures.
func (p *Pager[K, V]) Cleanup(ctx context.Context) error {
	merr := idxerrors.NewMultiError()
	for p.Size() > p.capacity {
		if err := p.CleanupOne(ctx); err != nil {
			merr.Add(err)
			// A page that failed to flush is still dirty and still
			// resident; without removing it from the LRU tail's path
			// this would spin, so nudge the next victim forward.
			p.bumpToFront(p.oldestKey())
		}
	}
	return merr.ToError()
}

func (p *Pager[K, V]) oldestKey() (K, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	back := p.lru.Back()
	if back == nil {
		var zero K
		return zero, false
	}
	return back.Value.(K), true
}

func (p *Pager[K, V]) bumpToFront(key K, ok bool) {
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, exists := p.items[key]; exists {
		p.lru.MoveToFront(e.elem)
	}
}

// Flush writes every dirty page to the backend and evicts it, draining the
// cache to empty: it temporarily sets the capacity to zero, drains via
// Cleanup, then restores the configured capacity.
func (p *Pager[K, V]) Flush(ctx context.Context) error {
	p.mu.Lock()
	oldCapacity := p.capacity
	p.capacity = 0
	p.mu.Unlock()

	err := p.Cleanup(ctx)

	p.mu.Lock()
	p.capacity = oldCapacity
	p.mu.Unlock()

	return err
}

// BlockOnCacheSize blocks the calling goroutine until the cache size is at
// or under capacity, driving cleanup itself if nothing else is. Workers
// call this after inserting points so a burst of inserts applies
// backpressure instead of growing the cache unbounded.
func (p *Pager[K, V]) BlockOnCacheSize(ctx context.Context) error {
	for p.Size() > p.capacity {
		if err := p.CleanupOne(ctx); err != nil {
			return err
		}
	}
	return nil
}
