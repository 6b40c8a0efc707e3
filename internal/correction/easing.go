// Package correction blends a mispredicted value into its corrected value
// over a few ticks after a rollback. It only ever produces render values.
package correction

import (
	"fmt"
	"strings"
)

// Easing maps linear progress in [0,1] onto eased progress in [0,1].
type Easing func(t float64) float64

const (
	EasingLinear         = "linear"
	EasingEaseOutQuad    = "ease-out-quad"
	EasingEaseInOutCubic = "ease-in-out-cubic"
)

func Linear(t float64) float64 {
	return clamp01(t)
}

func EaseOutQuad(t float64) float64 {
	t = clamp01(t)
	return 1 - (1-t)*(1-t)
}

func EaseInOutCubic(t float64) float64 {
	t = clamp01(t)
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - f*f*f/2
}

// EasingByName resolves a configured easing. An empty name selects
// ease-out-quad.
func EasingByName(name string) (Easing, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EasingEaseOutQuad:
		return EaseOutQuad, nil
	case EasingLinear:
		return Linear, nil
	case EasingEaseInOutCubic:
		return EaseInOutCubic, nil
	default:
		return nil, fmt.Errorf("unknown easing %q", name)
	}
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
