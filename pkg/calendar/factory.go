package calendar

import (
	"fmt"

	"github.com/cadencehq/calsync/internal/models"
)

// ServiceBuilder constructs a provider client. Builders are registered by the
// composition root; the factory itself holds no ambient state.
type ServiceBuilder func() Service

// Factory selects the provider client for a connection's stored provider
// value. Orchestration code goes through the factory and never branches on
// the provider string itself.
type Factory struct {
	builders map[models.Provider]ServiceBuilder
}

// NewFactory creates an empty service factory.
func NewFactory() *Factory {
	return &Factory{
		builders: make(map[models.Provider]ServiceBuilder),
	}
}

// Register adds a builder for a provider, replacing any previous one.
func (f *Factory) Register(provider models.Provider, builder ServiceBuilder) {
	f.builders[provider] = builder
}

// ServiceFor constructs the client for the given provider.
func (f *Factory) ServiceFor(provider models.Provider) (Service, error) {
	builder, ok := f.builders[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported calendar provider: %s", provider)
	}
	return builder(), nil
}

// SupportedProviders lists the registered providers.
func (f *Factory) SupportedProviders() []models.Provider {
	providers := make([]models.Provider, 0, len(f.builders))
	for p := range f.builders {
		providers = append(providers, p)
	}
	return providers
}
