package venue

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yield-vault/aavevault/internal/protocol"
)

// Locator resolves the active pool through the registry. Nothing is cached:
// each call reads the registry again, so a pool migration takes effect on the
// next operation.
type Locator struct {
	registry Registry
	provider common.Address // zero means first listed provider
}

// NewLocator returns a locator that uses the first provider in the registry.
func NewLocator(registry Registry) *Locator {
	return &Locator{registry: registry}
}

// NewLocatorFor returns a locator pinned to a designated provider address.
func NewLocatorFor(registry Registry, provider common.Address) *Locator {
	return &Locator{registry: registry, provider: provider}
}

// Resolve returns the currently active pool.
func (l *Locator) Resolve(ctx context.Context) (Pool, error) {
	providers, err := l.registry.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list providers: %v", protocol.ErrVenueUnresolvable, err)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: registry %s", protocol.ErrNoProviderRegistered, l.registry.Address().Hex())
	}

	provider := providers[0]
	if l.provider != (common.Address{}) {
		provider = nil
		for _, p := range providers {
			if p.Address() == l.provider {
				provider = p
				break
			}
		}
		if provider == nil {
			return nil, fmt.Errorf("%w: provider %s not in registry", protocol.ErrNoProviderRegistered, l.provider.Hex())
		}
	}

	pool, err := provider.GetActivePool(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s: %v", protocol.ErrVenueUnresolvable, provider.Address().Hex(), err)
	}
	if pool == nil || pool.Address() == (common.Address{}) {
		return nil, fmt.Errorf("%w: provider %s reports no pool", protocol.ErrVenueUnresolvable, provider.Address().Hex())
	}
	return pool, nil
}
