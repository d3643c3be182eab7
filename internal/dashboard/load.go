package dashboard

import (
	"context"
	"errors"
	"math"

	"github.com/shirou/gopsutil/v4/cpu"
)

// LoadFunc samples host CPU utilisation in percent.
type LoadFunc func(ctx context.Context) (float64, error)

// CPULoad reports utilisation across all cores since the previous call,
// without blocking for a sampling interval.
func CPULoad(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, errors.New("no cpu samples")
	}
	return math.Round(pcts[0]*10) / 10, nil
}
