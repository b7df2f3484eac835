package logger

import "sync"

// Some notices (geometry padding, feature fallbacks) are only useful the
// first time they fire. The registry tracks which notice keys have already
// been emitted so a per-step code path stays quiet after the first pass.
var onceRegistry = struct {
	mu   sync.Mutex
	seen map[string]bool
}{seen: make(map[string]bool)}

// WarnOnce logs msg at Warn level the first time key is seen and is a no-op
// on every later call with the same key.
func (l *Logger) WarnOnce(key string, msg string, args ...interface{}) {
	onceRegistry.mu.Lock()
	emitted := onceRegistry.seen[key]
	if !emitted {
		onceRegistry.seen[key] = true
	}
	onceRegistry.mu.Unlock()

	if emitted {
		return
	}
	l.Warn(msg, args...)
}

// Emitted reports whether a notice key has already fired.
func Emitted(key string) bool {
	onceRegistry.mu.Lock()
	defer onceRegistry.mu.Unlock()
	return onceRegistry.seen[key]
}

// ResetOnce clears the warn-once registry. Intended for tests.
func ResetOnce() {
	onceRegistry.mu.Lock()
	defer onceRegistry.mu.Unlock()
	onceRegistry.seen = make(map[string]bool)
}
