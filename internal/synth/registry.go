// Package synth provides the speech engines the player can drive and a
// registry to pick one by name.
package synth

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// Config is shared by all engine factories. Each engine reads the fields
// it needs.
type Config struct {
	Voice      string
	SampleRate int

	CacheDir  string
	DiskCache bool

	AzureKey          string
	AzureRegion       string
	RequestsPerSecond float64
}

// Factory builds an engine from config.
type Factory func(cfg Config, log *logger.Logger) (domain.SpeechEngine, error)

type entry struct {
	info    domain.EngineInfo
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]entry)
)

// Register adds an engine under info.Name. Panics on duplicates or a nil
// factory.
func Register(info domain.EngineInfo, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("synth: Register factory is nil")
	}
	if _, dup := registry[info.Name]; dup {
		panic("synth: Register called twice for " + info.Name)
	}
	registry[info.Name] = entry{info: info, factory: factory}
}

// New builds the named engine.
func New(name string, cfg Config, log *logger.Logger) (domain.SpeechEngine, domain.EngineInfo, error) {
	registryMu.RLock()
	e, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, domain.EngineInfo{}, fmt.Errorf("%w: %q (registered: %v)", domain.ErrUnknownEngine, name, Names())
	}
	eng, err := e.factory(cfg, log)
	if err != nil {
		return nil, domain.EngineInfo{}, fmt.Errorf("creating engine %s: %w", name, err)
	}
	return eng, e.info, nil
}

// Lookup returns the registered info for name.
func Lookup(name string) (domain.EngineInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[name]
	return e.info, ok
}

// List returns registered engines sorted by name.
func List() []domain.EngineInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]domain.EngineInfo, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered engine names, sorted.
func Names() []string {
	infos := List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}
