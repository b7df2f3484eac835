package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/attention"
	"github.com/23skdu/longbow-bodkin/internal/cache"
	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/geometry"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/monitoring"
)

var (
	mode        = flag.String("mode", "geometry", "Mode: geometry (print cache shape) or bench (run decode steps)")
	heads       = flag.Int("heads", 8, "Number of query heads")
	kvHeads     = flag.Int("kv-heads", 8, "Number of kv heads")
	headDim     = flag.Int("head-dim", 128, "Head dimension")
	numPages    = flag.Int("pages", 512, "Number of cache pages")
	maxModelLen = flag.Int("max-model-len", 2048, "Maximum model context length")
	maxNumSeqs  = flag.Int("max-num-seqs", 256, "Maximum concurrent sequences")
	steps       = flag.Int("steps", 100, "Decode steps to run in bench mode")
	batchSeqs   = flag.Int("batch", 8, "Sequences per step in bench mode")
	metricsAddr = flag.String("metrics", ":9090", "Address to serve health and Prometheus metrics")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "console", "Log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	cfg := config.Default()
	cfg.Heads = *heads
	cfg.KVHeads = *kvHeads
	cfg.HeadDim = *headDim
	cfg.Scale = float32(1.0 / math.Sqrt(float64(*headDim)))
	cfg.NumPages = *numPages
	cfg.MaxModelLen = *maxModelLen
	cfg.MaxNumSeqs = *maxNumSeqs
	cfg.PageSize = geometry.PageSize(cfg.MaxModelLen)

	switch *mode {
	case "geometry":
		runGeometry(cfg)
	case "bench":
		runBench(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

func runGeometry(cfg config.Config) {
	shape := geometry.KVCacheShape(cfg.NumPages, cfg.PageSize, cfg.KVHeads, cfg.HeadDim)
	minPage := geometry.MinPageSize(cfg.MaxModelLen, cfg.MaxNumSeqs)

	fmt.Printf("page_size:          %d (min %d for max_num_seqs=%d)\n", cfg.PageSize, minPage, cfg.MaxNumSeqs)
	fmt.Printf("num_pages:          %d\n", shape.NumPages)
	fmt.Printf("combined_kv_heads:  %d\n", shape.CombinedKVHeads)
	fmt.Printf("head_size:          %d (native %d)\n", shape.HeadSize, cfg.HeadDim)
	fmt.Printf("slots:              %d\n", shape.NumSlots())
	fmt.Printf("capacity:           %.1f MiB\n", float64(shape.Elems()*4)/(1<<20))
}

func runBench(cfg config.Config) {
	backend, err := attention.New(cfg)
	if err != nil {
		logger.Log.Error("backend construction failed", "error", err)
		os.Exit(1)
	}

	shape := geometry.KVCacheShape(cfg.NumPages, cfg.PageSize, cfg.KVHeads, cfg.HeadDim)
	pool := cache.NewPool(memory.NewGoAllocator(), shape)
	defer pool.Release()

	hm := monitoring.NewHealthMonitor()
	hm.SetCacheInfo(monitoring.CacheInfo{
		NumPages:      shape.NumPages,
		PageSize:      shape.PageSize,
		CapacityBytes: int64(shape.Elems() * 4),
	})
	go func() {
		if err := hm.Start(*metricsAddr); err != nil {
			logger.Log.Warn("health monitor stopped", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hm.Stop(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	nSeqs := *batchSeqs
	pagesPerSeq := shape.NumPages / nSeqs
	if pagesPerSeq == 0 {
		logger.Log.Error("pool too small for batch", "pages", shape.NumPages, "batch", nSeqs)
		os.Exit(1)
	}
	maxLen := pagesPerSeq * shape.PageSize

	logger.Log.Info("starting decode benchmark",
		"steps", *steps, "batch", nSeqs, "pages_per_seq", pagesPerSeq)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	hidden := cfg.Heads * cfg.HeadDim
	kvDim := cfg.KVHeads * cfg.HeadDim
	q := make([]float32, nSeqs*hidden)
	k := make([]float32, nSeqs*kvDim)
	v := make([]float32, nSeqs*kvDim)

	start := time.Now()
	tokens := 0
	for step := 0; step < *steps; step++ {
		select {
		case <-sigChan:
			logger.Log.Info("interrupt received, stopping benchmark")
			return
		default:
		}

		ctxLen := step % maxLen
		meta := &attention.Metadata{
			SlotMapping:   make([]int32, nSeqs),
			BlockTables:   make([][]int32, nSeqs),
			ContextLens:   make([]int32, nSeqs),
			QueryStartLoc: make([]int32, nSeqs+1),
			NumSeqs:       nSeqs,
		}
		for s := 0; s < nSeqs; s++ {
			base := s * pagesPerSeq
			table := make([]int32, pagesPerSeq)
			for i := range table {
				table[i] = int32(base + i)
			}
			meta.BlockTables[s] = table
			meta.ContextLens[s] = int32(ctxLen)
			meta.SlotMapping[s] = int32(base*shape.PageSize + ctxLen)
			meta.QueryStartLoc[s+1] = int32(s + 1)
		}
		for i := range q {
			q[i] = rng.Float32() - 0.5
		}
		for i := range k {
			k[i] = rng.Float32() - 0.5
			v[i] = rng.Float32() - 0.5
		}

		stepStart := time.Now()
		if _, err := backend.Forward(q, k, v, pool, meta, nil); err != nil {
			logger.Log.Error("forward failed", "step", step, "error", err)
			os.Exit(1)
		}
		hm.RecordStep(nSeqs, time.Since(stepStart))
		tokens += nSeqs
	}

	elapsed := time.Since(start)
	logger.Log.Info("benchmark complete",
		"steps", *steps,
		"tokens", tokens,
		"elapsed", elapsed.String(),
		"tokens_per_sec", fmt.Sprintf("%.1f", float64(tokens)/elapsed.Seconds()))
}
