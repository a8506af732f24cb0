package admission

import (
	"math"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// EffectiveCap scales a daily type cap by warm-up progress. It returns cap
// unchanged when warm-up does not apply, and never less than 1 otherwise.
func EffectiveCap(limit int, w domain.Warmup) int {
	if !w.Enabled || w.TotalWeeks <= 0 || w.CurrentWeek > w.TotalWeeks || limit <= 0 {
		return limit
	}
	speed := w.SpeedFactor
	if speed <= 0 || speed > 1 {
		speed = 1
	}
	scaled := int(math.Floor(float64(limit) * float64(w.CurrentWeek) / float64(w.TotalWeeks) * speed))
	return max(1, scaled)
}
