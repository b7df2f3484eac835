// Package attention implements the paged attention step: it commits each
// batch's key/value vectors into the page pool and drives one ragged kernel
// invocation over all in-flight sequences.
package attention

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/cache"
	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/geometry"
	"github.com/23skdu/longbow-bodkin/internal/kernel"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Name is the registry name of this backend.
const Name = "paged"

// minHardwareVersion is the capability floor of the ragged kernel.
const minHardwareVersion = 4

// Backend executes paged attention steps for one layer. Construction applies
// the supported-configuration gate; a Backend that exists can serve requests.
type Backend struct {
	cfg    config.Config
	kern   kernel.Kernel
	params kernel.Params

	// kvSharingSource names the earlier layer whose cache this layer reads.
	// Empty means the layer owns its cache and writes it every step.
	kvSharingSource string

	// slidingWindow after the irope fallback has been applied.
	slidingWindow int
}

type Option func(*Backend)

// WithKernel replaces the default reference kernel.
func WithKernel(k kernel.Kernel) Option {
	return func(b *Backend) { b.kern = k }
}

// WithKernelParams forwards opaque tuning to the kernel.
func WithKernelParams(p kernel.Params) Option {
	return func(b *Backend) { b.params = p }
}

// WithKVSharing marks this layer as reading the cache written by sourceLayer
// earlier in the same step; its own cache write is skipped.
func WithKVSharing(sourceLayer string) Option {
	return func(b *Backend) { b.kvSharingSource = sourceLayer }
}

// New constructs a Backend, rejecting unsupported configurations eagerly so
// failures surface at initialization, never mid-batch.
func New(cfg config.Config, opts ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		metrics.RecordUnsupportedConfig("invalid")
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedConfig, err)
	}
	if len(cfg.AlibiSlopes) > 0 {
		metrics.RecordUnsupportedConfig("alibi")
		return nil, fmt.Errorf("%w: alibi slopes are not supported", ErrUnsupportedConfig)
	}
	if cfg.BlockSparse {
		metrics.RecordUnsupportedConfig("block_sparse")
		return nil, fmt.Errorf("%w: block-sparse attention is not supported", ErrUnsupportedConfig)
	}
	if cfg.KVCacheDType != config.KVCacheDTypeAuto {
		metrics.RecordUnsupportedConfig("kv_cache_dtype")
		return nil, fmt.Errorf("%w: kv cache dtype %q is not supported (only native precision)",
			ErrUnsupportedConfig, cfg.KVCacheDType)
	}
	if cfg.GetAttnType() != config.AttnTypeDecoder {
		metrics.RecordUnsupportedConfig("attn_type")
		return nil, fmt.Errorf("%w: attention type %q is not supported (decoder self-attention only)",
			ErrUnsupportedConfig, cfg.AttnType)
	}
	if cfg.HardwareVersion < minHardwareVersion {
		metrics.RecordUnsupportedConfig("hardware_version")
		return nil, fmt.Errorf("%w: hardware version %d below minimum %d",
			ErrUnsupportedConfig, cfg.HardwareVersion, minHardwareVersion)
	}

	b := &Backend{
		cfg:           cfg,
		kern:          kernel.Reference{},
		slidingWindow: cfg.SlidingWindow,
	}
	if cfg.UseIrope {
		// The windowed-rotary scheme is not implemented by the ragged kernel;
		// long context degrades to global attention.
		logger.Log.WarnOnce("irope_fallback",
			"irope is not supported, falling back to global attention for long context")
		b.slidingWindow = 0
	}

	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Config returns the backend's configuration.
func (b *Backend) Config() config.Config {
	return b.cfg
}

// SlidingWindow returns the effective window after fallbacks (0 = global).
func (b *Backend) SlidingWindow() int {
	return b.slidingWindow
}

// KVSharingSource returns the source layer name, or empty when the layer
// owns its cache.
func (b *Backend) KVSharingSource() string {
	return b.kvSharingSource
}

// Forward runs one attention step.
//
//	query: [numTokens, heads * headDim] flattened
//	key:   [numTokens, kvHeads * headDim] flattened
//	value: [numTokens, kvHeads * headDim] flattened
//
// outputScale requests fused output quantization, which this backend rejects;
// pass nil. The returned output is [numTokens, heads * headDim].
func (b *Backend) Forward(query, key, value []float32, pool *cache.Pool, meta *Metadata, outputScale []float32) ([]float32, error) {
	if outputScale != nil {
		return nil, fmt.Errorf("%w: fused output scaling is not supported", ErrUnsupportedOperation)
	}

	// Memory-probing phase: no cache exists yet, return a placeholder of the
	// query's shape without touching anything.
	if pool == nil || pool.Capacity() == 0 {
		out := make([]float32, len(query))
		for i := range out {
			out[i] = 1
		}
		return out, nil
	}

	heads := b.cfg.Heads
	kvHeads := b.cfg.KVHeads
	headDim := b.cfg.HeadDim
	hidden := heads * headDim
	if hidden == 0 || len(query)%hidden != 0 {
		return nil, fmt.Errorf("query length %d is not a multiple of hidden size %d", len(query), hidden)
	}
	numTokens := len(query) / hidden
	if len(key) != numTokens*kvHeads*headDim || len(value) != len(key) {
		return nil, fmt.Errorf("key/value length mismatch: key %d, value %d, want %d",
			len(key), len(value), numTokens*kvHeads*headDim)
	}
	// All metadata checks happen before the cache write so a failed call
	// never leaves a partially written pool.
	if err := meta.Validate(numTokens); err != nil {
		return nil, err
	}
	physHead := pool.Shape().HeadSize
	if physHead != geometry.Cdiv(headDim, geometry.HeadSizeAlignment)*geometry.HeadSizeAlignment {
		return nil, fmt.Errorf("pool head size %d does not match padded head dim for %d", physHead, headDim)
	}

	start := time.Now()

	// Zero-pad the trailing head dimension up to the physical width. The pad
	// value must be exactly zero so padded lanes cannot perturb dot products.
	q := padHeads(query, numTokens, heads, headDim, physHead)
	k := padHeads(key, numTokens, kvHeads, headDim, physHead)
	v := padHeads(value, numTokens, kvHeads, headDim, physHead)

	if b.kvSharingSource == "" {
		cache.WriteKV(pool, k, v, numTokens, kvHeads, physHead, meta.SlotMapping)
	} else {
		// The source layer already populated these slots earlier this step.
		metrics.KVCacheWriteSkipped.Inc()
	}

	out, err := b.kern.RaggedPagedAttention(kernel.Call{
		Query:         q,
		NumTokens:     numTokens,
		NumHeads:      heads,
		HeadSize:      physHead,
		Pool:          pool,
		ContextLens:   meta.ContextLens,
		BlockTables:   meta.BlockTables,
		QueryStartLoc: meta.QueryStartLoc,
		NumSeqs:       meta.NumSeqs,
		Scale:         b.cfg.Scale,
		SlidingWindow: b.slidingWindow,
		SoftCap:       b.cfg.LogitsSoftCap,
		Params:        b.params,
	})
	if err != nil {
		return nil, fmt.Errorf("ragged attention kernel: %w", err)
	}

	out = stripHeads(out, numTokens, heads, headDim, physHead)

	for s := 0; s < meta.NumSeqs; s++ {
		metrics.RecordContextLength(int(meta.ContextLens[s]) + meta.QueryLen(s))
	}
	metrics.RecordStep(numTokens, meta.NumSeqs, time.Since(start))
	return out, nil
}

// SwapBlocks would migrate cache pages across devices. The paged backend
// declares this capability unsupported rather than silently ignoring it.
func (b *Backend) SwapBlocks(src, dst *cache.Pool, srcToDst [][2]int) error {
	return fmt.Errorf("%w: cross-device cache block migration", ErrUnsupportedOperation)
}

// padHeads widens each per-head vector from native to phys elements with
// zeros. When no padding is needed the input is returned unchanged.
func padHeads(src []float32, tokens, heads, native, phys int) []float32 {
	if native == phys {
		return src
	}
	dst := make([]float32, tokens*heads*phys)
	for t := 0; t < tokens; t++ {
		for h := 0; h < heads; h++ {
			s := (t*heads + h) * native
			d := (t*heads + h) * phys
			copy(dst[d:d+native], src[s:s+native])
		}
	}
	return dst
}

// stripHeads is the inverse of padHeads, slicing each head back to its
// native width and flattening to [tokens, heads*native].
func stripHeads(src []float32, tokens, heads, native, phys int) []float32 {
	if native == phys {
		return src
	}
	dst := make([]float32, tokens*heads*native)
	for t := 0; t < tokens; t++ {
		for h := 0; h < heads; h++ {
			s := (t*heads + h) * phys
			d := (t*heads + h) * native
			copy(dst[d:d+native], src[s:s+native])
		}
	}
	return dst
}
