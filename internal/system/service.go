// Package system provides the lifecycle manager that starts and stops every
// long-lived component of the control plane (deployment worker pool, pipeline
// monitor tickers, webhook HTTP server, notification dispatcher) in a single
// deterministic sequence, and the introspection plumbing cmd/auditor uses to
// expose what is running.
package system

import (
	"context"

	core "github.com/festion/homelab-gitops-auditor/internal/core/service"
)

// Service represents a lifecycle-managed component. Every long-running
// component registers with a Manager so it starts and stops deterministically
// alongside the rest of the control plane.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata (layer,
// capabilities) for the status/descriptor introspection endpoints.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
