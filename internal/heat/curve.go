package heat

// point is one breakpoint of a piecewise-linear normalization curve.
type point struct {
	x, y float64
}

// curve maps a raw indicator onto [0,1]. Breakpoints must be sorted by x.
type curve []point

func (c curve) at(v float64) float64 {
	if len(c) == 0 {
		return 0
	}
	if v <= c[0].x {
		return c[0].y
	}
	for i := 1; i < len(c); i++ {
		lo, hi := c[i-1], c[i]
		if v <= hi.x {
			return lo.y + (v-lo.x)/(hi.x-lo.x)*(hi.y-lo.y)
		}
	}
	return c[len(c)-1].y
}

// Normalization curves. Each is anchored so that its "normal" reading maps to 0.5 and the
// normal/elevated boundary maps to 0.6 where the domain has one (8% turnover).
var (
	volumeCurve     = curve{{0, 0}, {0.5, 0.1}, {1.0, 0.5}, {1.5, 0.8}, {2.0, 1}}
	limitUpCurve    = curve{{0, 0}, {1, 0.3}, {2, 0.5}, {5, 0.8}, {8, 1}}
	turnoverCurve   = curve{{0, 0}, {3, 0.2}, {5, 0.4}, {8, 0.6}, {12, 0.8}, {15, 1}}
	breadthCurve    = curve{{0, 0}, {0.3, 0.2}, {0.5, 0.5}, {0.7, 0.8}, {1, 1}}
	volatilityCurve = curve{{0, 0}, {1, 0.3}, {2, 0.5}, {3, 0.7}, {5, 1}}
	moneyFlowCurve  = curve{{-5, 0}, {0, 0.5}, {5, 1}}
)
