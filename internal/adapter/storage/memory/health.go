package memory

import "context"

// HealthCheck implements ports.HealthChecker for the in-memory store.
type HealthCheck struct{}

// Ping always succeeds.
func (HealthCheck) Ping(_ context.Context) error { return nil }

// Name returns the dependency name.
func (HealthCheck) Name() string { return "memory" }
