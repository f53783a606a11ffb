// Package model holds the canonical spot and measure data mutated only by
// the workspace controller.
package model

import "math"

// Mode selects which scene collaborator is current.
type Mode int

const (
	ModeUndefined Mode = iota
	Mode2D
	Mode3D
)

func (m Mode) String() string {
	switch m {
	case Mode2D:
		return "2d"
	case Mode3D:
		return "3d"
	default:
		return "undefined"
	}
}

// RGB is a spot color override. Components are in [0, 1].
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Spot is a single measured spatial point with derived visual attributes.
// Name is the identity; coordinates are read-only once loaded. Intensity is
// derived by the workspace and is NaN when the spot has no data or falls
// below the mapping threshold.
type Spot struct {
	Name string
	X, Y float64
	Z    float64 // zero in 2D datasets

	Scale      float64 // display-size multiplier, >= 0
	Color      *RGB    // nil until explicitly set
	Visibility float64 // [0, 1]
	Intensity  float64 // NaN means no data / filtered out
}

// NewSpot creates a spot with default visual attributes.
func NewSpot(name string, x, y, z float64) *Spot {
	return &Spot{
		Name:       name,
		X:          x,
		Y:          y,
		Z:          z,
		Scale:      1.0,
		Visibility: 1.0,
		Intensity:  math.NaN(),
	}
}

// Measure is a named array of raw values, index-aligned with the spot
// sequence. Missing entries are NaN. Measures are replaced as a batch
// alongside spots and never partially updated.
type Measure struct {
	Name   string
	Values []float64
}

// Dataset is the atomically-replaced pair of spots and measures.
// Invariant: len(m.Values) == len(Spots) for every measure.
type Dataset struct {
	Spots    []*Spot
	Measures []Measure

	index map[string]int // spot name -> position
}

// NewDataset builds a dataset and its name index.
func NewDataset(spots []*Spot, measures []Measure) *Dataset {
	index := make(map[string]int, len(spots))
	for i, s := range spots {
		index[s.Name] = i
	}
	return &Dataset{Spots: spots, Measures: measures, index: index}
}

// SpotByName returns the spot with the given name, or nil.
func (d *Dataset) SpotByName(name string) *Spot {
	if d == nil {
		return nil
	}
	if i, ok := d.index[name]; ok {
		return d.Spots[i]
	}
	return nil
}

// MeasureNames returns measure names in load order.
func (d *Dataset) MeasureNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.Measures))
	for i, m := range d.Measures {
		names[i] = m.Name
	}
	return names
}
