package cache

import (
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// WriteKV scatters one step's key/value vectors into the pool.
//
// keys and values are flat [numTokens, kvHeads, headSize] with headSize equal
// to the pool's physical (already padded) head size. slotMapping[i] is the
// flat slot receiving token i; the row is overwritten in place, key of head h
// at combined index 2h and value at 2h+1.
//
// Writes to distinct slots are independent; a slot index outside the pool is
// a caller contract violation (the scheduler owns slot allocation) and will
// panic on the slice bound rather than corrupt a neighbour.
func WriteKV(pool *Pool, keys, values []float32, numTokens, kvHeads, headSize int, slotMapping []int32) {
	for i := 0; i < numTokens; i++ {
		row := pool.Row(int(slotMapping[i]))
		tok := i * kvHeads * headSize
		for h := 0; h < kvHeads; h++ {
			src := tok + h*headSize
			copy(row[(2*h)*headSize:(2*h+1)*headSize], keys[src:src+headSize])
			copy(row[(2*h+1)*headSize:(2*h+2)*headSize], values[src:src+headSize])
		}
	}
	metrics.RecordCacheWrite(numTokens)
}
