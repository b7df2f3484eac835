package cache

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/geometry"
)

func testShape() geometry.Shape {
	return geometry.Shape{NumPages: 4, PageSize: 2, CombinedKVHeads: 2, HeadSize: 128}
}

func TestPoolLifecycle(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer alloc.AssertSize(t, 0)

	pool := NewPool(alloc, testShape())
	if pool.NumSlots() != 8 {
		t.Errorf("NumSlots = %d, want 8", pool.NumSlots())
	}
	if pool.Capacity() != 8*2*128 {
		t.Errorf("Capacity = %d, want %d", pool.Capacity(), 8*2*128)
	}

	// Fresh pool is zeroed.
	for slot := 0; slot < pool.NumSlots(); slot++ {
		for _, v := range pool.Row(slot) {
			if v != 0 {
				t.Fatalf("slot %d not zero-initialized", slot)
			}
		}
	}

	pool.Release()
}

func TestZeroCapacityPool(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer alloc.AssertSize(t, 0)

	shape := geometry.Shape{NumPages: 0, PageSize: 16, CombinedKVHeads: 4, HeadSize: 128}
	pool := NewPool(alloc, shape)
	if pool.Capacity() != 0 {
		t.Errorf("Capacity = %d, want 0", pool.Capacity())
	}
	if pool.NumSlots() != 0 {
		t.Errorf("NumSlots = %d, want 0", pool.NumSlots())
	}
	pool.Release()
}

func TestWriteKVRoundTrip(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer alloc.AssertSize(t, 0)

	const kvHeads, headSize = 1, 128
	pool := NewPool(alloc, testShape())
	defer pool.Release()

	numTokens := 3
	keys := make([]float32, numTokens*kvHeads*headSize)
	values := make([]float32, numTokens*kvHeads*headSize)
	for i := range keys {
		keys[i] = float32(i) + 0.5
		values[i] = -float32(i) - 0.5
	}
	slots := []int32{5, 0, 3}

	WriteKV(pool, keys, values, numTokens, kvHeads, headSize, slots)

	for i := 0; i < numTokens; i++ {
		k := pool.Head(int(slots[i]), 0)
		v := pool.Head(int(slots[i]), 1)
		for j := 0; j < headSize; j++ {
			wantK := keys[i*headSize+j]
			wantV := values[i*headSize+j]
			if k[j] != wantK {
				t.Fatalf("token %d key[%d] = %v, want %v", i, j, k[j], wantK)
			}
			if v[j] != wantV {
				t.Fatalf("token %d value[%d] = %v, want %v", i, j, v[j], wantV)
			}
		}
	}
}

func TestWriteKVOverwrite(t *testing.T) {
	alloc := memory.NewGoAllocator()

	const kvHeads, headSize = 1, 128
	pool := NewPool(alloc, testShape())
	defer pool.Release()

	first := make([]float32, headSize)
	for i := range first {
		first[i] = 1
	}
	second := make([]float32, headSize)
	for i := range second {
		second[i] = 2
	}

	WriteKV(pool, first, first, 1, kvHeads, headSize, []int32{2})
	WriteKV(pool, second, second, 1, kvHeads, headSize, []int32{2})

	for j, v := range pool.Head(2, 0) {
		if v != 2 {
			t.Fatalf("key[%d] = %v after overwrite, want 2", j, v)
		}
	}
}

func TestWriteKVMultiHeadInterleave(t *testing.T) {
	alloc := memory.NewGoAllocator()

	const kvHeads, headSize = 2, 128
	shape := geometry.Shape{NumPages: 2, PageSize: 2, CombinedKVHeads: 2 * kvHeads, HeadSize: headSize}
	pool := NewPool(alloc, shape)
	defer pool.Release()

	keys := make([]float32, kvHeads*headSize)
	values := make([]float32, kvHeads*headSize)
	for h := 0; h < kvHeads; h++ {
		for j := 0; j < headSize; j++ {
			keys[h*headSize+j] = float32(10*h) + 1
			values[h*headSize+j] = float32(10*h) + 2
		}
	}

	WriteKV(pool, keys, values, 1, kvHeads, headSize, []int32{1})

	for h := 0; h < kvHeads; h++ {
		if got := pool.Head(1, 2*h)[0]; got != float32(10*h)+1 {
			t.Errorf("head %d key slot = %v, want %v", h, got, float32(10*h)+1)
		}
		if got := pool.Head(1, 2*h+1)[0]; got != float32(10*h)+2 {
			t.Errorf("head %d value slot = %v, want %v", h, got, float32(10*h)+2)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	alloc := memory.NewGoAllocator()
	pool := NewPool(alloc, testShape())
	defer pool.Release()

	snap := pool.Snapshot()
	one := make([]float32, 128)
	for i := range one {
		one[i] = 1
	}
	WriteKV(pool, one, one, 1, 1, 128, []int32{0})

	if snap[0] != 0 {
		t.Error("snapshot should not alias pool memory")
	}
}
