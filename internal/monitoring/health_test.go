package monitoring

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	hm := NewHealthMonitor()

	rec := httptest.NewRecorder()
	hm.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}

func TestStatusReflectsStepsAndCache(t *testing.T) {
	hm := NewHealthMonitor()
	hm.SetCacheInfo(CacheInfo{NumPages: 512, PageSize: 16, CapacityBytes: 1 << 20})
	hm.RecordStep(32, 4*time.Millisecond)
	hm.RecordStep(8, 2*time.Millisecond)

	rec := httptest.NewRecorder()
	hm.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if status.Cache.NumPages != 512 || status.Cache.PageSize != 16 {
		t.Errorf("cache info = %+v", status.Cache)
	}
	if status.Performance.StepCount != 2 {
		t.Errorf("step count = %d, want 2", status.Performance.StepCount)
	}
	if status.Performance.TokensPerSecond <= 0 {
		t.Errorf("tokens/sec = %v, want > 0", status.Performance.TokensPerSecond)
	}
}

func TestStepHistoryBounded(t *testing.T) {
	hm := NewHealthMonitor()
	for i := 0; i < 1500; i++ {
		hm.RecordStep(1, time.Millisecond)
	}
	hm.mu.RLock()
	n := len(hm.history)
	count := hm.stepCount
	hm.mu.RUnlock()
	if n > 1000 {
		t.Errorf("history length = %d, want <= 1000", n)
	}
	if count != 1500 {
		t.Errorf("step count = %d, want 1500", count)
	}
}
