package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/astra/types"
)

// ControlPlane is the management API that owns database state
type ControlPlane interface {
	// Lookups
	ListNonTerminated(ctx context.Context) ([]types.Database, error)
	FindByName(ctx context.Context, name string) (types.Lookup, error)
	FindByID(ctx context.Context, id string) (types.Database, bool, error)

	// Mutations
	Create(ctx context.Context, spec types.DatabaseSpec) (string, error)
	Delete(ctx context.Context, id string) error

	// Provider info
	Name() string
}

// ProviderConfig holds provider configuration
type ProviderConfig struct {
	Token     string
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// ProviderFactory creates a control plane instance
type ProviderFactory func(ctx context.Context, config ProviderConfig) (ControlPlane, error)

var (
	providers = make(map[string]ProviderFactory)
	mu        sync.RWMutex
)

// RegisterProvider registers a new provider factory
func RegisterProvider(name string, factory ProviderFactory) {
	mu.Lock()
	defer mu.Unlock()
	providers[name] = factory
}

// GetProvider creates a control plane by provider name
func GetProvider(ctx context.Context, name string, config ProviderConfig) (ControlPlane, error) {
	mu.RLock()
	factory, exists := providers[name]
	mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return factory(ctx, config)
}

// ListProviders returns available provider names
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
