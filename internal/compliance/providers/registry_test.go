package providers

import (
	"testing"
	"time"

	"github.com/smallbiznis/fakturo/internal/compliance/domain"
	"github.com/smallbiznis/fakturo/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryKnowsAllProviders(t *testing.T) {
	registry := NewDefaultRegistry()

	for _, provider := range []string{"myinvois", "zatca", "ksef", "efactura", "mock", "none"} {
		assert.True(t, registry.ProviderExists(provider), provider)
	}
	assert.False(t, registry.ProviderExists("peppol"))
}

func TestNewAuthorityUnknownProvider(t *testing.T) {
	registry := NewDefaultRegistry()

	_, err := registry.NewAuthority("peppol", domain.AuthorityConfig{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestNewAuthorityRequiresBaseURLForHTTP(t *testing.T) {
	registry := NewDefaultRegistry()

	_, err := registry.NewAuthority("myinvois", domain.AuthorityConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	authority, err := registry.NewAuthority("myinvois", domain.AuthorityConfig{
		BaseURL: "https://api.myinvois.example",
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "myinvois", authority.Provider())
}

func TestFromConfigDisabledResolvesToNone(t *testing.T) {
	registry := NewDefaultRegistry()
	cfg := config.Config{
		EInvoice: config.EInvoiceConfig{Provider: "myinvois", Enabled: false},
	}

	holder, err := config.NewEInvoiceEndpointHolder(cfg)
	require.NoError(t, err)

	authority, err := FromConfig(registry, cfg, holder)
	require.NoError(t, err)
	assert.Equal(t, "none", authority.Provider())
}

func TestFromConfigMockNeedsNoCredentials(t *testing.T) {
	registry := NewDefaultRegistry()
	cfg := config.Config{
		EInvoice: config.EInvoiceConfig{Provider: "mock", Enabled: true},
	}

	holder, err := config.NewEInvoiceEndpointHolder(cfg)
	require.NoError(t, err)

	authority, err := FromConfig(registry, cfg, holder)
	require.NoError(t, err)
	assert.Equal(t, "mock", authority.Provider())
}
