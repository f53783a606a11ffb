package workspace

import (
	"errors"
	"math"
	"sort"

	"github.com/ili-toolbox/ili-server/internal/event"
	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/internal/scene"
	"github.com/ili-toolbox/ili-server/pkg/colormap"
	"github.com/ili-toolbox/ili-server/pkg/scale"
)

// ErrNoSuchMeasure is returned when a measure selection is out of range.
var ErrNoSuchMeasure = errors.New("measure index out of range")

// SelectMapByIndex makes the i-th measure active and recomputes intensities.
func (w *Workspace) SelectMapByIndex(i int) error {
	w.mu.Lock()
	if w.dataset == nil || i < 0 || i >= len(w.dataset.Measures) {
		w.mu.Unlock()
		return ErrNoSuchMeasure
	}
	if w.active == i {
		w.mu.Unlock()
		return nil
	}
	w.active = i
	events := w.updateMappingLocked(true)
	w.mu.Unlock()

	w.publish(events)
	return nil
}

// ScaleID returns the active scale id.
func (w *Workspace) ScaleID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scaleID
}

// SetScaleID switches the value transform. An unregistered id is a
// configuration error; raw measure values are never touched, only derived
// bounds and intensities change.
func (w *Workspace) SetScaleID(id string) error {
	sc, err := scale.Lookup(id)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.scaleID == id {
		w.mu.Unlock()
		return nil
	}
	w.scaleID = id
	w.sc = sc
	events := w.updateMappingLocked(true)
	w.mu.Unlock()

	w.publish(events)
	return nil
}

// ColormapID returns the active colormap id.
func (w *Workspace) ColormapID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cmID
}

// SetColormapID switches the colormap and refreshes both scenes.
func (w *Workspace) SetColormapID(id string) error {
	cm, err := colormap.Lookup(id)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.cmID == id {
		w.mu.Unlock()
		return nil
	}
	w.cmID = id
	w.cm = cm
	w.scene2d.SetColormap(cm)
	w.scene3d.SetColormap(cm)
	w.scene2d.RefreshSpots()
	w.scene3d.RefreshSpots()
	w.mu.Unlock()

	w.bus.Publish(event.MappingChange)
	return nil
}

// AutoMinMax reports whether display bounds are derived from the data.
func (w *Workspace) AutoMinMax() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.autoMinMax
}

// SetAutoMinMax toggles bound derivation. Enabling recomputes bounds from the
// active measure immediately.
func (w *Workspace) SetAutoMinMax(auto bool) {
	w.mu.Lock()
	if w.autoMinMax == auto {
		w.mu.Unlock()
		return
	}
	w.autoMinMax = auto
	events := []event.Name{event.AutoMappingChange}
	if auto {
		events = append(events, w.updateMappingLocked(false)...)
	}
	w.mu.Unlock()

	w.publish(events)
}

// MinValue returns the lower display-space bound.
func (w *Workspace) MinValue() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.minValue
}

// MaxValue returns the upper display-space bound.
func (w *Workspace) MaxValue() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxValue
}

// SetMinValue sets the lower bound; authoritative only with autoMinMax off.
func (w *Workspace) SetMinValue(v float64) {
	w.setBound(&w.minValue, v)
}

// SetMaxValue sets the upper bound; authoritative only with autoMinMax off.
func (w *Workspace) SetMaxValue(v float64) {
	w.setBound(&w.maxValue, v)
}

func (w *Workspace) setBound(target *float64, v float64) {
	w.mu.Lock()
	if w.autoMinMax || *target == v {
		w.mu.Unlock()
		return
	}
	*target = v
	w.recomputeIntensitiesLocked()
	w.mu.Unlock()

	w.publish([]event.Name{event.MappingChange, event.IntensitiesChange})
}

// HotspotQuantile returns the auto-bound quantile.
func (w *Workspace) HotspotQuantile() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hotspotQuantile
}

// SetHotspotQuantile clamps q to [0, 1] and, with autoMinMax on, rederives
// the bounds. Out-of-range input is clamped, never rejected.
func (w *Workspace) SetHotspotQuantile(q float64) {
	q = model.ClampUnit(q)

	w.mu.Lock()
	if w.hotspotQuantile == q {
		w.mu.Unlock()
		return
	}
	w.hotspotQuantile = q
	var events []event.Name
	if w.autoMinMax {
		events = w.updateMappingLocked(false)
	}
	w.mu.Unlock()

	w.publish(events)
}

// updateMappingLocked runs the intensity pipeline: with autoMinMax on it
// rederives the bounds first; intensities recompute either way when force is
// set or a bound moved. Returns the events to publish after unlocking.
func (w *Workspace) updateMappingLocked(force bool) []event.Name {
	var events []event.Name

	boundsChanged := false
	if w.autoMinMax {
		min, max := w.autoBoundsLocked()
		if min != w.minValue || max != w.maxValue {
			w.minValue = min
			w.maxValue = max
			boundsChanged = true
			events = append(events, event.MappingChange)
		}
	}

	// Unchanged bounds with an unchanged trigger mean nothing downstream
	// could move either; skip the recompute and its event.
	if !force && !boundsChanged {
		return events
	}

	w.recomputeIntensitiesLocked()
	events = append(events, event.IntensitiesChange)
	return events
}

// autoBoundsLocked derives display bounds from the active measure: raw
// values failing the scale's domain predicate are discarded, the survivors
// are transformed and sorted, the minimum becomes minValue and the value at
// rank ceil((n-1) * hotspotQuantile) becomes maxValue. Both are 0 when
// nothing survives.
func (w *Workspace) autoBoundsLocked() (float64, float64) {
	m := w.activeMeasureLocked()
	if m == nil {
		return 0, 0
	}

	scaled := make([]float64, 0, len(m.Values))
	for _, v := range m.Values {
		if math.IsNaN(v) || !w.sc.InDomain(v) {
			continue
		}
		scaled = append(scaled, w.sc.Apply(v))
	}
	if len(scaled) == 0 {
		return 0, 0
	}
	sort.Float64s(scaled)

	rank := int(math.Ceil(float64(len(scaled)-1) * w.hotspotQuantile))
	return scaled[0], scaled[rank]
}

// recomputeIntensitiesLocked derives each spot's display intensity from its
// raw value, the scale and the current bounds, then pushes the full spot
// sequence to both scenes. NaN marks a spot with no data or below threshold.
// maxValue == minValue is special-cased: values at or above the bound map to
// 1.0, everything else to NaN, never a NaN from division.
func (w *Workspace) recomputeIntensitiesLocked() {
	if w.dataset == nil {
		return
	}
	m := w.activeMeasureLocked()

	for i, s := range w.dataset.Spots {
		if m == nil || i >= len(m.Values) {
			s.Intensity = math.NaN()
			continue
		}
		raw := m.Values[i]
		if math.IsNaN(raw) || !w.sc.InDomain(raw) {
			s.Intensity = math.NaN()
			continue
		}
		scaled := w.sc.Apply(raw)
		switch {
		case scaled >= w.maxValue:
			s.Intensity = 1.0
		case scaled >= w.minValue && w.maxValue > w.minValue:
			s.Intensity = (scaled - w.minValue) / (w.maxValue - w.minValue)
		default:
			s.Intensity = math.NaN()
		}
	}

	w.scene2d.UpdateIntensities(w.dataset.Spots)
	w.scene3d.UpdateIntensities(w.dataset.Spots)
}

func (w *Workspace) activeMeasureLocked() *model.Measure {
	if w.dataset == nil || w.active < 0 || w.active >= len(w.dataset.Measures) {
		return nil
	}
	return &w.dataset.Measures[w.active]
}

// currentSceneLocked returns the scene owned by the current mode, nil in
// ModeUndefined.
func (w *Workspace) currentSceneLocked() scene.Scene {
	switch w.mode {
	case model.Mode2D:
		return w.scene2d
	case model.Mode3D:
		return w.scene3d
	default:
		return nil
	}
}
