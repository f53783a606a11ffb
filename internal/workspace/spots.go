package workspace

import (
	"github.com/ili-toolbox/ili-server/internal/event"
	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/internal/scene"
)

// SpotVisibility returns a name-to-visibility snapshot.
func (w *Workspace) SpotVisibility() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dataset == nil {
		return map[string]float64{}
	}
	return w.visibilityProperty().Read(w.dataset.Spots)
}

// SetSpotVisibility applies per-name visibility updates, clamped to [0, 1].
// Unknown names are ignored. Returns the applied count.
func (w *Workspace) SetSpotVisibility(values map[string]float64) int {
	w.mu.Lock()
	applied := w.visibilityProperty().Write(w.dataset, values)
	w.mu.Unlock()
	return applied
}

// SpotColor returns a name-to-color snapshot; spots without an explicit
// override are absent.
func (w *Workspace) SpotColor() map[string]model.RGB {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]model.RGB)
	if w.dataset == nil {
		return out
	}
	for _, s := range w.dataset.Spots {
		if s.Color != nil {
			out[s.Name] = *s.Color
		}
	}
	return out
}

// SetSpotColor applies per-name color overrides. Components are clamped to
// [0, 1]. Unknown names are ignored. Returns the applied count.
func (w *Workspace) SetSpotColor(values map[string]model.RGB) int {
	w.mu.Lock()
	applied := w.colorProperty().Write(w.dataset, values)
	w.mu.Unlock()
	return applied
}

// SpotScale returns a name-to-scale snapshot.
func (w *Workspace) SpotScale() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dataset == nil {
		return map[string]float64{}
	}
	return w.scaleProperty().Read(w.dataset.Spots)
}

// SetSpotScale applies per-name display-size multipliers, clamped to >= 0.
// Spot scale feeds the mesh mapping cutoff, so in 3D mode the full
// recoloring pipeline reruns. Returns the applied count.
func (w *Workspace) SetSpotScale(values map[string]float64) int {
	w.mu.Lock()
	applied := w.scaleProperty().Write(w.dataset, values)
	is3D := w.mode == model.Mode3D
	w.mu.Unlock()

	if applied > 0 && is3D {
		w.remap(scene.UseColormap)
	}
	return applied
}

// visibilityProperty edits Spot.Visibility; the post-write hook refreshes the
// active scene. Callers hold w.mu.
func (w *Workspace) visibilityProperty() model.Property[float64] {
	return model.Property[float64]{
		Get:   func(s *model.Spot) float64 { return s.Visibility },
		Set:   func(s *model.Spot, v float64) { s.Visibility = v },
		Clamp: model.ClampUnit,
		After: w.refreshCurrentSceneLocked,
	}
}

func (w *Workspace) colorProperty() model.Property[model.RGB] {
	return model.Property[model.RGB]{
		Get: func(s *model.Spot) model.RGB {
			if s.Color == nil {
				return model.RGB{}
			}
			return *s.Color
		},
		Set: func(s *model.Spot, c model.RGB) { s.Color = &c },
		Clamp: func(c model.RGB) model.RGB {
			return model.RGB{
				R: model.ClampUnit(c.R),
				G: model.ClampUnit(c.G),
				B: model.ClampUnit(c.B),
			}
		},
		After: w.refreshCurrentSceneLocked,
	}
}

func (w *Workspace) scaleProperty() model.Property[float64] {
	return model.Property[float64]{
		Get:   func(s *model.Spot) float64 { return s.Scale },
		Set:   func(s *model.Spot, v float64) { s.Scale = v },
		Clamp: model.ClampNonNegative,
		After: w.refreshCurrentSceneLocked,
	}
}

func (w *Workspace) refreshCurrentSceneLocked() {
	if sc := w.currentSceneLocked(); sc != nil {
		sc.RefreshSpots()
	}
	// Published under w.mu: bus handlers must not call back into the
	// workspace synchronously.
	w.bus.Publish(event.IntensitiesChange)
}
