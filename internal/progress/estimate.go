package progress

import (
	"time"

	"github.com/dyike/CortexFlow/consts"
)

const (
	baseDuration       = 60 * time.Second
	perAnalystDuration = 45 * time.Second
	// below this completed fraction the extrapolated ETA is too noisy to trust
	etaExtrapolationFloor = 0.2
)

var depthMultiplier = map[int]float64{
	consts.DepthQuick:    0.6,
	consts.DepthBasic:    0.8,
	consts.DepthStandard: 1.0,
	consts.DepthDeep:     1.5,
	consts.DepthFull:     2.0,
}

var speedMultiplier = map[string]float64{
	consts.SpeedFast:   0.8,
	consts.SpeedNormal: 1.0,
	consts.SpeedSlow:   1.5,
}

// EstimateDuration predicts the wall time of a job before it starts.
func EstimateDuration(opts Options) time.Duration {
	analysts := max(opts.AnalystCount, 0)
	level := opts.ResearchDepth
	if level == 0 {
		level = consts.DepthStandard
	}
	depth := depthMultiplier[min(max(level, consts.DepthQuick), consts.DepthFull)]
	speed, ok := speedMultiplier[opts.ProviderSpeed]
	if !ok {
		speed = 1.0
	}

	d := float64(baseDuration+time.Duration(analysts)*perAnalystDuration) * depth * speed
	return time.Duration(d)
}

// remaining is elapsed*(1/p - 1) once p is past the extrapolation floor, else the
// initial estimate minus elapsed, floored at zero.
func remaining(elapsed time.Duration, percent float64, estimate time.Duration) time.Duration {
	if percent >= 1 {
		return 0
	}
	if percent > etaExtrapolationFloor {
		return time.Duration(float64(elapsed) * (1/percent - 1))
	}
	return max(estimate-elapsed, 0)
}
