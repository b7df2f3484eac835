package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStep(t *testing.T) {
	before := testutil.ToFloat64(StepTokensTotal)
	RecordStep(12, 3, 5*time.Millisecond)
	after := testutil.ToFloat64(StepTokensTotal)
	if after-before != 12 {
		t.Errorf("step tokens delta = %v, want 12", after-before)
	}
}

func TestRecordKVCacheStats(t *testing.T) {
	RecordKVCacheStats(4096, 1024)
	if got := testutil.ToFloat64(KVCacheCapacityBytes); got != 4096 {
		t.Errorf("capacity = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(KVCacheUsedBytes); got != 1024 {
		t.Errorf("used = %v, want 1024", got)
	}
}

func TestRecordCacheWrite(t *testing.T) {
	before := testutil.ToFloat64(KVCacheWriteTokens)
	RecordCacheWrite(7)
	after := testutil.ToFloat64(KVCacheWriteTokens)
	if after-before != 7 {
		t.Errorf("write tokens delta = %v, want 7", after-before)
	}
}

func TestRecordUnsupportedConfig(t *testing.T) {
	before := testutil.ToFloat64(UnsupportedConfigs.WithLabelValues("alibi"))
	RecordUnsupportedConfig("alibi")
	after := testutil.ToFloat64(UnsupportedConfigs.WithLabelValues("alibi"))
	if after-before != 1 {
		t.Errorf("unsupported config delta = %v, want 1", after-before)
	}
}

func TestRecordKernelDuration(t *testing.T) {
	// Histograms are not comparable via ToFloat64; just exercise the path.
	RecordKernelDuration("reference", 2*time.Millisecond)
	RecordContextLength(1024)
}
