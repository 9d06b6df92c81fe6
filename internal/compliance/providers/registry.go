// Package providers wires the pluggable authority adapters into a
// registry and builds the one selected by configuration.
package providers

import (
	"strings"

	"github.com/smallbiznis/fakturo/internal/compliance/domain"
	"github.com/smallbiznis/fakturo/internal/compliance/providers/disabled"
	"github.com/smallbiznis/fakturo/internal/compliance/providers/efactura"
	"github.com/smallbiznis/fakturo/internal/compliance/providers/ksef"
	"github.com/smallbiznis/fakturo/internal/compliance/providers/mockauthority"
	"github.com/smallbiznis/fakturo/internal/compliance/providers/myinvois"
	"github.com/smallbiznis/fakturo/internal/compliance/providers/zatca"
	"github.com/smallbiznis/fakturo/internal/config"
)

type Registry struct {
	factories map[string]domain.AuthorityFactory
}

func NewRegistry(factories ...domain.AuthorityFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AuthorityFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// NewDefaultRegistry registers every built-in authority.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		myinvois.NewFactory(),
		zatca.NewFactory(),
		ksef.NewFactory(),
		efactura.NewFactory(),
		mockauthority.NewFactory(),
		disabled.NewFactory(),
	)
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewAuthority(provider string, cfg domain.AuthorityConfig) (domain.Authority, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAuthority(cfg)
}

// FromConfig builds the authority the deployment is configured for. A
// disabled e-invoice feature always resolves to the "none" provider,
// whatever the configured name says.
func FromConfig(registry *Registry, cfg config.Config, endpoints *config.EInvoiceEndpointHolder) (domain.Authority, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.EInvoice.Provider))
	if !cfg.EInvoice.Enabled || provider == "" {
		provider = "none"
	}

	eps := endpoints.Endpoints()
	return registry.NewAuthority(provider, domain.AuthorityConfig{
		BaseURL:      cfg.EInvoice.BaseURL,
		ClientID:     cfg.EInvoice.ClientID,
		ClientSecret: cfg.EInvoice.ClientSecret,
		Timeout:      cfg.EInvoice.Timeout,
		Endpoints: domain.Endpoints{
			Auth:     eps.Auth,
			Submit:   eps.Submit,
			Status:   eps.Status,
			Validate: eps.Validate,
		},
	})
}
