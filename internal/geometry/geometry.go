// Package geometry computes the physical shape of the paged KV cache and the
// page sizes the hardware can index efficiently. It is pure computation; the
// only side effects are one-time notices when a shape had to be adjusted.
package geometry

import (
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// HeadSizeAlignment is the per-head vector width boundary required by the
// execution substrate. Head sizes that are not a multiple of this are padded
// up, and the usable page count shrinks so total storage stays within budget.
const HeadSizeAlignment = 128

// scratchBytes is the fast-scratch capacity available for per-sequence page
// index tables. The block tables are nearly the entire scratch requirement:
// maxNumSeqs * pagesPerSeq * 4 bytes. We keep them under half of it.
const scratchBytes = 1 << 20

// Shape is the physical layout of the page pool:
// [NumPages, PageSize, CombinedKVHeads, HeadSize].
// CombinedKVHeads packs key and value per kv head into one axis
// (even index = key, odd index = value).
type Shape struct {
	NumPages        int
	PageSize        int
	CombinedKVHeads int
	HeadSize        int
}

// NumSlots is the number of addressable token rows in the pool.
func (s Shape) NumSlots() int {
	return s.NumPages * s.PageSize
}

// RowElems is the element count of one token row (all kv heads, key and value).
func (s Shape) RowElems() int {
	return s.CombinedKVHeads * s.HeadSize
}

// Elems is the total element count of the pool.
func (s Shape) Elems() int {
	return s.NumSlots() * s.RowElems()
}

// KVCacheShape computes the physical cache shape for a requested logical page
// count. When headSize is not aligned the head is padded and the page count is
// reduced proportionally so the byte budget of the original request holds:
// NumPages * HeadSize <= numPages * headSize.
func KVCacheShape(numPages, pageSize, kvHeads, headSize int) Shape {
	padded := Cdiv(headSize, HeadSizeAlignment) * HeadSizeAlignment
	adjusted := numPages * headSize / padded
	if padded != headSize {
		logger.Log.WarnOnce("geometry_head_padding",
			"head size padded for alignment, page count adjusted",
			"head_size", headSize, "padded_head_size", padded, "num_pages", adjusted)
		metrics.GeometryPadding.Inc()
	}
	return Shape{
		NumPages:        adjusted,
		PageSize:        pageSize,
		CombinedKVHeads: kvHeads * 2,
		HeadSize:        padded,
	}
}

// MinPageSize is the smallest page size whose per-sequence page index table
// still fits the fast-scratch budget, rounded up to a power of two.
func MinPageSize(maxModelLen, maxNumSeqs int) int {
	maxPagesPerSeq := scratchBytes / 2 / maxNumSeqs / 4
	return NextPowerOfTwo(Cdiv(maxModelLen, maxPagesPerSeq))
}

// PageSize balances index-table pressure against per-page overhead: split the
// max model length into roughly 16 pages, clamped to [16, 256]. Below the
// floor, fixed per-page cost dominates; above the ceiling, the index table
// outgrows fast scratch.
func PageSize(maxModelLen int) int {
	pageSize := NextPowerOfTwo(maxModelLen) / 16
	if pageSize <= 16 {
		return 16
	}
	if pageSize >= 256 {
		return 256
	}
	return pageSize
}

// Slot encodes a (page, offset) pair as a flat physical slot id.
func Slot(pageID, offset, pageSize int) int {
	return pageID*pageSize + offset
}

// SlotPage recovers the page id from a flat slot.
func SlotPage(slot, pageSize int) int {
	return slot / pageSize
}

// SlotOffset recovers the in-page offset from a flat slot.
func SlotOffset(slot, pageSize int) int {
	return slot % pageSize
}

// Cdiv is ceiling division for non-negative operands.
func Cdiv(a, b int) int {
	return (a + b - 1) / b
}

// NextPowerOfTwo returns the smallest power of two >= n (n >= 1).
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
