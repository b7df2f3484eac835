// Package kernel is the capability boundary around the ragged paged attention
// computation. The backend treats a Kernel as a single blocking call from
// (query, cache, metadata) to output; device-specific implementations plug in
// behind the same contract, and Reference is the pure-Go one used on hosts
// without an accelerator.
package kernel

import (
	"github.com/23skdu/longbow-bodkin/internal/cache"
)

// Params are opaque tuning knobs forwarded to the kernel. Zero means the
// kernel picks its own default; the backend never interprets these.
type Params struct {
	NumKVPagesPerBlock int
	NumQueriesPerBlock int
	VmemLimitBytes     int
}

// Call carries one ragged batch through a single kernel invocation.
//
// Query is [NumTokens, NumHeads, HeadSize] flattened, with HeadSize already
// padded to the pool's physical head size. ContextLens, BlockTables,
// QueryStartLoc and NumSeqs follow the step metadata contract: sequence s owns
// query rows [QueryStartLoc[s], QueryStartLoc[s+1]) and its cached context is
// reachable through BlockTables[s].
type Call struct {
	Query     []float32
	NumTokens int
	NumHeads  int
	HeadSize  int

	Pool *cache.Pool

	ContextLens   []int32
	BlockTables   [][]int32
	QueryStartLoc []int32
	NumSeqs       int

	Scale         float32
	SlidingWindow int     // 0 = global attention
	SoftCap       float32 // 0 = no logits soft cap

	Params Params
}

// Kernel computes ragged paged attention for an entire batch in one call.
// For each sequence independently: causal (or sliding-window-causal) scaled
// dot-product attention of the sequence's query span against its full cached
// context, with an optional tanh soft cap on the logits before softmax.
type Kernel interface {
	Name() string
	RaggedPagedAttention(call Call) ([]float32, error)
}
