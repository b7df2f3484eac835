package config

import (
	"fmt"
	"strings"
)

// Attention types understood by the backend. Only decoder self-attention is
// actually servable; the rest exist so misconfiguration fails loudly.
const (
	AttnTypeDecoder        = "decoder"
	AttnTypeEncoder        = "encoder"
	AttnTypeEncoderDecoder = "encoder_decoder"
)

// KVCacheDTypeAuto stores the cache in the model's native precision.
const KVCacheDTypeAuto = "auto"

type Config struct {
	// Model geometry
	Heads   int
	KVHeads int
	HeadDim int
	Scale   float32

	// Attention variants
	SlidingWindow int     // 0 = global attention
	LogitsSoftCap float32 // 0 = no soft cap
	AlibiSlopes   []float32
	BlockSparse   bool
	UseIrope      bool
	AttnType      string
	KVCacheDType  string

	// Serving limits (drive page-size selection)
	MaxModelLen int
	MaxNumSeqs  int

	// Cache pool sizing
	NumPages int
	PageSize int

	// Hardware capability generation of the execution substrate
	HardwareVersion int
}

func (c *Config) Validate() error {
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", c.Heads)
	}
	if c.KVHeads <= 0 {
		return fmt.Errorf("invalid kv_heads: %d (must be positive)", c.KVHeads)
	}
	if c.KVHeads > c.Heads {
		return fmt.Errorf("invalid kv_heads: %d (must be <= heads: %d)", c.KVHeads, c.Heads)
	}
	if c.Heads%c.KVHeads != 0 {
		return fmt.Errorf("heads (%d) must be divisible by kv_heads (%d)", c.Heads, c.KVHeads)
	}
	if c.HeadDim <= 0 {
		return fmt.Errorf("invalid head_dim: %d (must be positive)", c.HeadDim)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("invalid scale: %f (must be positive)", c.Scale)
	}
	if c.SlidingWindow < 0 {
		return fmt.Errorf("invalid sliding_window: %d (must be non-negative)", c.SlidingWindow)
	}
	if c.LogitsSoftCap < 0 {
		return fmt.Errorf("invalid logits_soft_cap: %f (must be non-negative)", c.LogitsSoftCap)
	}
	if c.MaxModelLen <= 0 {
		return fmt.Errorf("invalid max_model_len: %d (must be positive)", c.MaxModelLen)
	}
	if c.MaxNumSeqs <= 0 {
		return fmt.Errorf("invalid max_num_seqs: %d (must be positive)", c.MaxNumSeqs)
	}
	if c.NumPages < 0 {
		return fmt.Errorf("invalid num_pages: %d (must be non-negative)", c.NumPages)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("invalid page_size: %d (must be positive)", c.PageSize)
	}
	return nil
}

func (c *Config) GetAttnType() string {
	return strings.ToLower(c.AttnType)
}

// QueriesPerKV is the GQA group size: how many query heads share one kv head.
func (c *Config) QueriesPerKV() int {
	return c.Heads / c.KVHeads
}

func Default() Config {
	return Config{
		Heads:           8,
		KVHeads:         8,
		HeadDim:         128,
		Scale:           1.0 / 11.3137085, // 1/sqrt(128)
		AttnType:        AttnTypeDecoder,
		KVCacheDType:    KVCacheDTypeAuto,
		MaxModelLen:     2048,
		MaxNumSeqs:      256,
		NumPages:        512,
		PageSize:        16,
		HardwareVersion: 6,
	}
}
