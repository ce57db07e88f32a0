// Package service provides the small set of generic building blocks shared
// by every long-lived component of the control plane: a descriptor type for
// introspection, list-limit clamping, observation hooks, and a retry helper.
package service

// Layer describes the architectural slice a component belongs to: intake at
// the edge, engines that make decisions, and the data/security substrate
// underneath them.
type Layer string

const (
	LayerIngress  Layer = "ingress"
	LayerEngine   Layer = "engine"
	LayerData     Layer = "data"
	LayerSecurity Layer = "security"
)

// Descriptor advertises a component's placement and capabilities. It is
// optional and does not change runtime behavior, but lets introspection
// endpoints and documentation reason about the system uniformly.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
