package resilience

import (
	"sync"
	"time"

	"github.com/bidwise/rfpcore/core"
)

// Factory keeps one named circuit breaker per downstream agent so that
// failures against one agent never quarantine another.
type Factory struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults BreakerConfig
	logger   core.Logger
	metrics  MetricsCollector
}

// NewFactory creates a factory applying the given defaults to every
// breaker it creates. A nil defaults uses DefaultBreakerConfig.
func NewFactory(defaults *BreakerConfig) *Factory {
	if defaults == nil {
		defaults = DefaultBreakerConfig()
	}
	return &Factory{
		breakers: make(map[string]*CircuitBreaker),
		defaults: *defaults,
		logger:   defaults.Logger,
		metrics:  defaults.Metrics,
	}
}

// SetLogger configures the logger applied to newly created breakers.
func (f *Factory) SetLogger(logger core.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if logger != nil {
		f.logger = logger
	}
}

// Get returns the breaker for the named downstream, creating it on first
// use with the factory defaults.
func (f *Factory) Get(name string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[name]; ok {
		return cb
	}

	config := f.defaults
	config.Name = name
	config.Logger = f.logger
	config.Metrics = f.metrics
	cb, err := NewCircuitBreaker(&config)
	if err != nil {
		// Defaults are validated at factory construction; a bad config
		// here means zero-value defaults, so fall back to stock ones.
		fallback := DefaultBreakerConfig()
		fallback.Name = name
		cb, _ = NewCircuitBreaker(fallback)
	}
	f.breakers[name] = cb
	return cb
}

// Names returns the names of all created breakers.
func (f *Factory) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.breakers))
	for name := range f.breakers {
		names = append(names, name)
	}
	return names
}

// States returns a snapshot of every breaker's current state.
func (f *Factory) States() map[string]CircuitState {
	f.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(f.breakers))
	for name, cb := range f.breakers {
		breakers[name] = cb
	}
	f.mu.Unlock()

	states := make(map[string]CircuitState, len(breakers))
	for name, cb := range breakers {
		states[name] = cb.State()
	}
	return states
}

// OpenTimeout reports the default open timeout applied to new breakers.
func (f *Factory) OpenTimeout() time.Duration {
	return f.defaults.OpenTimeout
}
