package trajectory

// Profile shapes the progress of an interpolated motion segment. Input and
// output are both in [0, 1]; out-of-range inputs are clamped.
type Profile uint8

// Motion profiles.
const (
	// ProfileSmoothstep has zero velocity at both ends.
	ProfileSmoothstep Profile = iota
	// ProfileEaseInOut is a cubic with a gentler start than smoothstep.
	ProfileEaseInOut
	// ProfileTrapezoidal ramps over the first and last fifth of the
	// segment and cruises in between.
	ProfileTrapezoidal
)

const trapezoidRamp = 0.2

// Interpolate maps segment progress to motion progress.
func (p Profile) Interpolate(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	switch p {
	case ProfileEaseInOut:
		if t < 0.5 {
			return 4 * t * t * t
		}
		u := -2*t + 2
		return 1 - u*u*u/2
	case ProfileTrapezoidal:
		// Area-normalized so progress reaches exactly 1.
		ramp := trapezoidRamp
		peak := 1 / (1 - ramp)
		switch {
		case t < ramp:
			return peak * t * t / (2 * ramp)
		case t > 1-ramp:
			u := 1 - t
			return 1 - peak*u*u/(2*ramp)
		default:
			return peak * (t - ramp/2)
		}
	default:
		return t * t * (3 - 2*t)
	}
}
