package kernel

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Reference is the pure-Go ragged paged attention kernel. It is the
// correctness baseline for the kernel contract and the implementation used
// when no device kernel is registered. The tuning Params are accepted but not
// consulted; the reference picks its own work partitioning.
type Reference struct{}

func (Reference) Name() string {
	return "reference"
}

// RaggedPagedAttention processes every sequence in the batch in one call,
// parallel across (sequence, head) work items.
func (r Reference) RaggedPagedAttention(call Call) ([]float32, error) {
	if err := checkCall(call); err != nil {
		return nil, err
	}
	start := time.Now()

	shape := call.Pool.Shape()
	kvHeads := shape.CombinedKVHeads / 2
	queriesPerKV := call.NumHeads / kvHeads
	headSize := call.HeadSize

	out := make([]float32, call.NumTokens*call.NumHeads*headSize)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for s := 0; s < call.NumSeqs; s++ {
		for h := 0; h < call.NumHeads; h++ {
			g.Go(func() error {
				r.attendHead(call, out, s, h, h/queriesPerKV)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.RecordKernelDuration(r.Name(), time.Since(start))
	return out, nil
}

// attendHead computes one (sequence, query head) pair: every query token of
// sequence s attends over that sequence's cached context through its block
// table row.
func (r Reference) attendHead(call Call, out []float32, s, h, kvh int) {
	shape := call.Pool.Shape()
	headSize := call.HeadSize
	pageSize := shape.PageSize

	qStart := int(call.QueryStartLoc[s])
	qEnd := int(call.QueryStartLoc[s+1])
	ctxLen := int(call.ContextLens[s])
	seqLen := ctxLen + (qEnd - qStart)
	blocks := call.BlockTables[s]

	scores := make([]float32, seqLen)

	for qi := qStart; qi < qEnd; qi++ {
		pos := ctxLen + (qi - qStart) // absolute position of this query token
		lo := 0
		if call.SlidingWindow > 0 && pos-call.SlidingWindow+1 > 0 {
			lo = pos - call.SlidingWindow + 1
		}

		q := call.Query[(qi*call.NumHeads+h)*headSize : (qi*call.NumHeads+h+1)*headSize]

		// Scaled scores with causal bound, soft-capped before softmax.
		maxScore := float32(math.Inf(-1))
		for p := lo; p <= pos; p++ {
			slot := int(blocks[p/pageSize])*pageSize + p%pageSize
			k := call.Pool.Head(slot, 2*kvh)
			var dot float32
			for j := 0; j < headSize; j++ {
				dot += q[j] * k[j]
			}
			score := dot * call.Scale
			if call.SoftCap > 0 {
				score = call.SoftCap * float32(math.Tanh(float64(score/call.SoftCap)))
			}
			scores[p] = score
			if score > maxScore {
				maxScore = score
			}
		}

		var sum float32
		for p := lo; p <= pos; p++ {
			scores[p] = float32(math.Exp(float64(scores[p] - maxScore)))
			sum += scores[p]
		}
		if sum == 0 {
			sum = 1e-6
		}

		o := out[(qi*call.NumHeads+h)*headSize : (qi*call.NumHeads+h+1)*headSize]
		for p := lo; p <= pos; p++ {
			w := scores[p] / sum
			slot := int(blocks[p/pageSize])*pageSize + p%pageSize
			v := call.Pool.Head(slot, 2*kvh+1)
			for j := 0; j < headSize; j++ {
				o[j] += w * v[j]
			}
		}
	}
}

func checkCall(call Call) error {
	if call.Pool == nil || call.Pool.Capacity() == 0 {
		return fmt.Errorf("kernel invoked with empty page pool")
	}
	shape := call.Pool.Shape()
	if call.HeadSize != shape.HeadSize {
		return fmt.Errorf("query head size %d does not match cache head size %d",
			call.HeadSize, shape.HeadSize)
	}
	kvHeads := shape.CombinedKVHeads / 2
	if kvHeads == 0 || call.NumHeads%kvHeads != 0 {
		return fmt.Errorf("num_heads %d not divisible by kv heads %d", call.NumHeads, kvHeads)
	}
	if call.NumSeqs <= 0 || len(call.QueryStartLoc) != call.NumSeqs+1 {
		return fmt.Errorf("query_start_loc length %d does not match num_seqs %d",
			len(call.QueryStartLoc), call.NumSeqs)
	}
	if len(call.ContextLens) < call.NumSeqs || len(call.BlockTables) < call.NumSeqs {
		return fmt.Errorf("metadata shorter than num_seqs %d", call.NumSeqs)
	}
	if int(call.QueryStartLoc[0]) != 0 || int(call.QueryStartLoc[call.NumSeqs]) != call.NumTokens {
		return fmt.Errorf("query_start_loc does not span %d tokens", call.NumTokens)
	}
	for s := 0; s < call.NumSeqs; s++ {
		if call.QueryStartLoc[s] > call.QueryStartLoc[s+1] {
			return fmt.Errorf("query_start_loc decreases at sequence %d", s)
		}
	}
	return nil
}
