// Package scale provides value transforms applied to raw measure values
// before normalization.
package scale

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidScaleID is returned by Lookup for an unregistered scale id.
var ErrInvalidScaleID = errors.New("invalid scale id")

// Scale maps a raw measure value into display space. Apply is monotonic and
// total; InDomain filters values Apply must not see (e.g. non-positive values
// for log10). Scales are immutable singletons chosen from the registry by id.
type Scale struct {
	ID       string
	Apply    func(v float64) float64
	InDomain func(v float64) bool
}

// Linear is the identity scale. Its domain is all finite reals.
var Linear = Scale{
	ID:       "linear",
	Apply:    func(v float64) float64 { return v },
	InDomain: func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) },
}

// Log10 is the base-10 logarithmic scale. Its domain is (0, +inf).
var Log10 = Scale{
	ID:       "log10",
	Apply:    math.Log10,
	InDomain: func(v float64) bool { return v > 0 && !math.IsInf(v, 0) },
}

var registry = map[string]Scale{
	Linear.ID: Linear,
	Log10.ID:  Log10,
}

// Lookup returns the scale registered under id.
func Lookup(id string) (Scale, error) {
	s, ok := registry[id]
	if !ok {
		return Scale{}, fmt.Errorf("%w: %q", ErrInvalidScaleID, id)
	}
	return s, nil
}

// IDs returns the registered scale ids in stable order.
func IDs() []string {
	return []string{Linear.ID, Log10.ID}
}
