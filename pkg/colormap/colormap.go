// Package colormap provides color schemes for spot visualization.
package colormap

import (
	"errors"
	"fmt"
	"image/color"
)

// ErrUnknownColormap is returned by Lookup for an unregistered name.
var ErrUnknownColormap = errors.New("unknown colormap")

// Colormap maps normalized intensities [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// AtIndex returns color at index i (wraps around).
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	colors: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// Plasma colormap
var Plasma = LinearColormap{
	colors: []color.RGBA{
		{13, 8, 135, 255},
		{75, 3, 161, 255},
		{125, 3, 168, 255},
		{168, 34, 150, 255},
		{203, 70, 121, 255},
		{229, 107, 93, 255},
		{248, 148, 65, 255},
		{253, 195, 40, 255},
		{240, 249, 33, 255},
	},
}

// Inferno colormap
var Inferno = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 4, 255},
		{40, 11, 84, 255},
		{101, 21, 110, 255},
		{159, 42, 99, 255},
		{212, 72, 66, 255},
		{245, 125, 21, 255},
		{250, 193, 39, 255},
		{252, 255, 164, 255},
	},
}

// Magma colormap
var Magma = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 4, 255},
		{28, 16, 68, 255},
		{79, 18, 123, 255},
		{129, 37, 129, 255},
		{181, 54, 122, 255},
		{229, 80, 100, 255},
		{251, 135, 97, 255},
		{254, 194, 135, 255},
		{252, 253, 191, 255},
	},
}

// RedHot fades from dark gray to saturated red, keeping low-intensity spots
// visible against the underlying image or mesh.
var RedHot = LinearColormap{
	colors: []color.RGBA{
		{64, 64, 64, 255},
		{128, 64, 48, 255},
		{192, 48, 32, 255},
		{255, 0, 0, 255},
	},
}

// GreenHot fades from dark gray to saturated green.
var GreenHot = LinearColormap{
	colors: []color.RGBA{
		{64, 64, 64, 255},
		{64, 128, 48, 255},
		{32, 192, 48, 255},
		{0, 255, 0, 255},
	},
}

// BlueHot fades from dark gray to saturated blue.
var BlueHot = LinearColormap{
	colors: []color.RGBA{
		{64, 64, 64, 255},
		{48, 64, 128, 255},
		{32, 48, 192, 255},
		{0, 0, 255, 255},
	},
}

// Grayscale fades from black to white.
var Grayscale = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 0, 255},
		{255, 255, 255, 255},
	},
}

// registry is the immutable colormap table, initialized once and queried by name.
var registry = map[string]Colormap{
	"viridis":   Viridis,
	"plasma":    Plasma,
	"inferno":   Inferno,
	"magma":     Magma,
	"red-hot":   RedHot,
	"green-hot": GreenHot,
	"blue-hot":  BlueHot,
	"grayscale": Grayscale,
}

// Lookup returns the colormap registered under name.
func Lookup(name string) (Colormap, error) {
	cm, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColormap, name)
	}
	return cm, nil
}

// Names returns the registered colormap names in stable order.
func Names() []string {
	return []string{
		"viridis", "plasma", "inferno", "magma",
		"red-hot", "green-hot", "blue-hot", "grayscale",
	}
}
