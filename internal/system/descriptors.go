package system

import (
	"sort"

	core "github.com/festion/homelab-gitops-auditor/internal/core/service"
)

// CollectDescriptors extracts service descriptors, skipping services that
// don't advertise one, and sorts them for deterministic presentation (layer,
// then name).
func CollectDescriptors(providers []DescriptorProvider) []core.Descriptor {
	var out []core.Descriptor
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
