package healthcheck

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
)

// GopsutilHostStats implements HostStats using shirou/gopsutil/v3 for host
// introspection.
type GopsutilHostStats struct{}

// CPUPercent samples total CPU utilization over a short window.
func (GopsutilHostStats) CPUPercent(ctx context.Context) (float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, nil
	}
	return percentages[0], nil
}
