// Package cache holds the long-lived paged KV pool and the scatter writer
// that commits each step's key/value vectors into it.
package cache

import (
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/geometry"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Pool is the physical paged KV cache: one flat float32 buffer with logical
// shape [NumPages, PageSize, CombinedKVHeads, HeadSize]. It is allocated once,
// mutated in place by scatter writes, and carries no per-slot lifetime state;
// slot reuse discipline is the scheduler's responsibility.
type Pool struct {
	shape geometry.Shape
	alloc memory.Allocator
	raw   []byte
	data  []float32
}

// NewPool allocates a pool with the given physical shape. A shape with zero
// pages yields a zero-capacity pool, which is valid: it is what the engine
// passes during the memory-probing phase.
func NewPool(alloc memory.Allocator, shape geometry.Shape) *Pool {
	p := &Pool{shape: shape, alloc: alloc}
	n := shape.Elems()
	if n > 0 {
		p.raw = alloc.Allocate(n * 4)
		p.data = unsafe.Slice((*float32)(unsafe.Pointer(&p.raw[0])), n)
		clear(p.data)
	}

	metrics.RecordKVCacheStats(int64(n)*4, 0)
	logger.Log.Info("page pool allocated",
		"pages", shape.NumPages, "page_size", shape.PageSize,
		"combined_kv_heads", shape.CombinedKVHeads, "head_size", shape.HeadSize,
		"bytes", int64(n)*4)
	return p
}

// Shape returns the pool's physical shape.
func (p *Pool) Shape() geometry.Shape {
	return p.shape
}

// Capacity is the total number of float32 elements in the pool.
func (p *Pool) Capacity() int {
	return len(p.data)
}

// NumSlots is the number of addressable token rows.
func (p *Pool) NumSlots() int {
	return p.shape.NumSlots()
}

// Row returns the contiguous token row at the given flat slot:
// [CombinedKVHeads, HeadSize]. The returned slice aliases pool memory.
func (p *Pool) Row(slot int) []float32 {
	row := p.shape.RowElems()
	return p.data[slot*row : (slot+1)*row]
}

// Head returns one key or value vector within a row. kvHeadSlot follows the
// combined-axis interleave: even = key, odd = value.
func (p *Pool) Head(slot, kvHeadSlot int) []float32 {
	r := p.Row(slot)
	return r[kvHeadSlot*p.shape.HeadSize : (kvHeadSlot+1)*p.shape.HeadSize]
}

// Snapshot copies the whole pool. Intended for tests.
func (p *Pool) Snapshot() []float32 {
	out := make([]float32, len(p.data))
	copy(out, p.data)
	return out
}

// Release returns the buffer to the allocator. The pool must not be used
// afterwards.
func (p *Pool) Release() {
	if p.raw != nil {
		p.alloc.Free(p.raw)
		p.raw = nil
		p.data = nil
	}
	metrics.RecordKVCacheStats(0, 0)
}
