package optimize

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Skryldev/image-ingest/core"
)

// EngineOptions is passed to every engine factory.
type EngineOptions struct {
	DefaultQuality int
	Concurrency    int
	Hooks          []core.Hook
	Logger         core.Logger
}

// EngineFactory builds an engine. It returns an error when the backend is
// compiled in but cannot start (e.g. a missing shared library).
type EngineFactory func(opts EngineOptions) (core.Engine, error)

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]EngineFactory)
)

// RegisterEngine makes an engine available by name. Adapters call it from
// init; registering the same name twice panics.
func RegisterEngine(name string, f EngineFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if f == nil {
		panic("optimize: RegisterEngine factory is nil")
	}
	if _, dup := engines[name]; dup {
		panic(fmt.Sprintf("optimize: RegisterEngine called twice for %q", name))
	}
	engines[name] = f
}

// Engines returns the sorted names of registered engines.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	out := make([]string, 0, len(engines))
	for n := range engines {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func lookupEngine(name string) (EngineFactory, bool) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	f, ok := engines[name]
	return f, ok
}
