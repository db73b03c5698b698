package services

import (
	"context"
)

// Provider is a dependency the engine needs to serve traffic
type Provider interface {
	// HealthCheck checks if the dependency is available
	HealthCheck(ctx context.Context) error
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context) error

// HealthCheck calls f
func (f ProviderFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
