package attention

import (
	"fmt"
	"sort"
	"sync"

	"github.com/23skdu/longbow-bodkin/internal/config"
)

// Factory builds a backend from a configuration.
type Factory func(cfg config.Config, opts ...Option) (*Backend, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Factory)
)

// Register makes a backend factory discoverable by name. Later registrations
// under the same name replace earlier ones.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// NewNamed builds a registered backend.
func NewNamed(name string, cfg config.Config, opts ...Option) (*Backend, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown attention backend %q (registered: %v)", name, Names())
	}
	return f(cfg, opts...)
}

// Names lists registered backends in stable order.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(Name, New)
}
