package scene

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/pkg/colormap"
)

// Config contains rendering settings shared by both scenes.
type Config struct {
	SpotRadius      float64 // base spot radius in image pixels
	GlobalSpotScale float64
	SpotBorder      float64 // border opacity [0, 1]
}

// Scene2D overlays spots on a flat image and renders the composite to PNG.
type Scene2D struct {
	mu sync.Mutex

	cfg      Config
	img      image.Image
	width    int
	height   int
	spots    []*model.Spot
	colormap colormap.Colormap
	dirty    bool
}

// NewScene2D creates an empty 2D scene.
func NewScene2D(cfg Config, cm colormap.Colormap) *Scene2D {
	if cfg.SpotRadius <= 0 {
		cfg.SpotRadius = 8
	}
	if cfg.GlobalSpotScale <= 0 {
		cfg.GlobalSpotScale = 1
	}
	return &Scene2D{cfg: cfg, colormap: cm}
}

// SetImage installs the decoded background image.
func (s *Scene2D) SetImage(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	b := img.Bounds()
	s.width, s.height = b.Dx(), b.Dy()
	s.dirty = true
}

// ResetImage clears the background image, used when leaving 2D mode.
func (s *Scene2D) ResetImage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
	s.width, s.height = 0, 0
	s.dirty = true
}

// Dimensions returns the background image size, zero before any image loads.
func (s *Scene2D) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// SetColormap switches the active colormap.
func (s *Scene2D) SetColormap(cm colormap.Colormap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colormap = cm
	s.dirty = true
}

// SetGlobalSpotScale updates the global spot size multiplier.
func (s *Scene2D) SetGlobalSpotScale(scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scale > 0 {
		s.cfg.GlobalSpotScale = scale
		s.dirty = true
	}
}

// SetSpots replaces the spot sequence.
func (s *Scene2D) SetSpots(spots []*model.Spot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spots = spots
	s.dirty = true
}

// RefreshSpots marks spot visual attributes as changed.
func (s *Scene2D) RefreshSpots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// UpdateIntensities receives the recomputed spot sequence.
func (s *Scene2D) UpdateIntensities(spots []*model.Spot) {
	s.SetSpots(spots)
}

// Render draws the background image with the spot overlay and returns PNG
// bytes. Without a background image it renders spots on a white canvas sized
// to the spot extent.
func (s *Scene2D) Render() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, h := s.width, s.height
	if w == 0 || h == 0 {
		w, h = s.extent()
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()
	if s.img != nil {
		dc.DrawImage(s.img, 0, 0)
	}

	for _, spot := range s.spots {
		if spot.Visibility <= 0 {
			continue
		}
		r := s.cfg.SpotRadius * s.cfg.GlobalSpotScale * spot.Scale
		if r <= 0 {
			continue
		}

		c, ok := s.spotColor(spot)
		if ok {
			cr, cg, cb, _ := c.RGBA()
			dc.SetRGBA(float64(cr)/65535, float64(cg)/65535, float64(cb)/65535, spot.Visibility)
			dc.DrawCircle(spot.X, spot.Y, r)
			dc.Fill()
		}

		if s.cfg.SpotBorder > 0 {
			dc.SetRGBA(0, 0, 0, s.cfg.SpotBorder*spot.Visibility)
			dc.SetLineWidth(1)
			dc.DrawCircle(spot.X, spot.Y, r)
			dc.Stroke()
		}
	}

	s.dirty = false

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// spotColor resolves the fill color for one spot: an explicit color override
// wins, otherwise the colormap at the spot's intensity. Spots with NaN
// intensity and no override render as absent.
func (s *Scene2D) spotColor(spot *model.Spot) (color.Color, bool) {
	if spot.Color != nil {
		return color.RGBA{
			R: uint8(model.ClampUnit(spot.Color.R) * 255),
			G: uint8(model.ClampUnit(spot.Color.G) * 255),
			B: uint8(model.ClampUnit(spot.Color.B) * 255),
			A: 255,
		}, true
	}
	if math.IsNaN(spot.Intensity) || s.colormap == nil {
		return nil, false
	}
	return s.colormap.At(spot.Intensity), true
}

func (s *Scene2D) extent() (int, int) {
	maxX, maxY := 1.0, 1.0
	for _, spot := range s.spots {
		pad := s.cfg.SpotRadius * s.cfg.GlobalSpotScale * spot.Scale
		if spot.X+pad > maxX {
			maxX = spot.X + pad
		}
		if spot.Y+pad > maxY {
			maxY = spot.Y + pad
		}
	}
	return int(math.Ceil(maxX)) + 1, int(math.Ceil(maxY)) + 1
}
