package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ili-toolbox/ili-server/internal/event"
	"github.com/ili-toolbox/ili-server/internal/loader"
	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/internal/scene"
	"github.com/ili-toolbox/ili-server/internal/task"
)

// SetMode switches the current mode without a triggering load. Re-entering
// the current mode is a no-op.
func (w *Workspace) SetMode(m model.Mode) {
	w.mu.Lock()
	changed := w.transitionLocked(m)
	w.mu.Unlock()
	if changed {
		w.bus.Publish(event.ModeChange)
	}
}

// transitionLocked performs the mode state machine step: the mode being left
// has its scene state and in-flight load tasks cleared, the mode being
// entered is populated from the retained spot sequence. Returns whether the
// mode actually changed; the caller publishes mode-change exactly once.
func (w *Workspace) transitionLocked(m model.Mode) bool {
	if w.mode == m {
		return false
	}

	switch w.mode {
	case model.Mode2D:
		w.runner.Cancel(task.KindLoadImage)
		w.scene2d.ResetImage()
		w.scene2d.SetSpots(nil)
	case model.Mode3D:
		w.runner.Cancel(task.KindLoadMesh)
		w.runner.Cancel(task.KindLoadMaterial)
		w.runner.Cancel(task.KindMap)
		w.scene3d.ResetGeometry()
		w.scene3d.SetSpots(nil)
	}

	w.mode = m
	if w.dataset != nil {
		switch m {
		case model.Mode2D:
			w.scene2d.SetSpots(w.dataset.Spots)
		case model.Mode3D:
			w.scene3d.SetSpots(w.dataset.Spots)
		}
	}
	return true
}

// coerceResult converts a task result to the expected concrete type.
// In-process workers return the type directly; isolated workers return
// decoded wire fields that are re-marshalled into the target.
func coerceResult[T any](result any) (T, error) {
	if v, ok := result.(T); ok {
		return v, nil
	}
	var out T
	blob, err := json.Marshal(result)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(blob, &out); err != nil {
		return out, err
	}
	return out, nil
}

// LoadImage forces 2D mode and starts an image-load task. On success the
// decoded image is handed to the 2D scene.
func (w *Workspace) LoadImage(data []byte) error {
	w.mu.Lock()
	changed := w.transitionLocked(model.Mode2D)
	w.runner.Cancel(task.KindLoadMesh)
	w.mu.Unlock()
	if changed {
		w.bus.Publish(event.ModeChange)
	}

	p, err := w.runner.Start(task.KindLoadImage, data)
	if err != nil {
		return err
	}
	go w.awaitOutcome(p, func(result any) {
		img, err := coerceResult[*loader.DecodedImage](result)
		if err != nil {
			w.appendError(fmt.Sprintf("%s result: %v", task.KindLoadImage, err))
			return
		}
		w.mu.Lock()
		w.scene2d.SetImage(img.Image)
		w.mu.Unlock()
	})
	return nil
}

// LoadMesh forces 3D mode and starts a mesh-load task. On success the
// geometry is installed and, when spots are already present, one recoloring
// pass with the active colormap is triggered through the map task.
func (w *Workspace) LoadMesh(data []byte) error {
	w.mu.Lock()
	changed := w.transitionLocked(model.Mode3D)
	w.runner.Cancel(task.KindLoadImage)
	w.mu.Unlock()
	if changed {
		w.bus.Publish(event.ModeChange)
	}

	p, err := w.runner.Start(task.KindLoadMesh, data)
	if err != nil {
		return err
	}
	go w.awaitOutcome(p, func(result any) {
		mesh, err := coerceResult[*scene.Mesh](result)
		if err != nil {
			w.appendError(fmt.Sprintf("%s result: %v", task.KindLoadMesh, err))
			return
		}
		w.mu.Lock()
		w.scene3d.SetGeometry(mesh)
		hasSpots := w.dataset != nil && len(w.dataset.Spots) > 0
		w.mu.Unlock()
		if hasSpots {
			w.remap(scene.UseColormap)
		}
	})
	return nil
}

// LoadMaterial forces 3D mode and starts a material-load task.
func (w *Workspace) LoadMaterial(data []byte) error {
	w.mu.Lock()
	changed := w.transitionLocked(model.Mode3D)
	w.runner.Cancel(task.KindLoadImage)
	w.mu.Unlock()
	if changed {
		w.bus.Publish(event.ModeChange)
	}

	p, err := w.runner.Start(task.KindLoadMaterial, data)
	if err != nil {
		return err
	}
	go w.awaitOutcome(p, func(result any) {
		mat, err := coerceResult[*scene.Material](result)
		if err != nil {
			w.appendError(fmt.Sprintf("%s result: %v", task.KindLoadMaterial, err))
			return
		}
		w.scene3d.SetMaterial(mat)
		w.scene3d.Recolor(scene.UseColormap)
	})
	return nil
}

// LoadIntensities starts a measures-load task. On success spots and measures
// replace the prior dataset atomically, the first measure becomes active and
// intensities are recomputed.
func (w *Workspace) LoadIntensities(data []byte) error {
	p, err := w.runner.Start(task.KindLoadMeasures, data)
	if err != nil {
		return err
	}
	go w.awaitOutcome(p, func(result any) {
		ds, err := coerceResult[*model.Dataset](result)
		if err != nil {
			w.appendError(fmt.Sprintf("%s result: %v", task.KindLoadMeasures, err))
			return
		}
		// Rebuild the name index; a coerced dataset arrives without one.
		ds = model.NewDataset(ds.Spots, ds.Measures)

		w.mu.Lock()
		w.dataset = ds
		w.active = -1
		if len(ds.Measures) > 0 {
			w.active = 0
		}
		w.scene2d.SetSpots(ds.Spots)
		w.scene3d.SetSpots(ds.Spots)
		events := w.updateMappingLocked(true)
		needRemap := w.mode == model.Mode3D && w.scene3d.Mesh() != nil
		w.mu.Unlock()

		w.publish(events)
		if needRemap {
			w.remap(scene.UseColormap)
		}
	})
	return nil
}

// remap rebuilds the spot-to-vertex mapping on the map task and recolors
// with the requested policy once the mapping lands.
func (w *Workspace) remap(mode scene.RecolorMode) {
	w.mu.Lock()
	mesh := w.scene3d.Mesh()
	var spots []*model.Spot
	if w.dataset != nil {
		spots = w.dataset.Spots
	}
	radius := w.spotRadius
	w.mu.Unlock()

	if mesh == nil || len(spots) == 0 {
		return
	}

	p, err := w.runner.Start(task.KindMap, mapPayload{mesh: mesh, spots: spots, radius: radius})
	if err != nil {
		w.appendError(err.Error())
		return
	}
	go w.awaitOutcome(p, func(result any) {
		m, err := coerceResult[*scene.Mapping](result)
		if err != nil {
			w.appendError(fmt.Sprintf("%s result: %v", task.KindMap, err))
			return
		}
		w.scene3d.SetMapping(m)
		w.scene3d.Recolor(mode)
		w.bus.Publish(event.IntensitiesChange)
	})
}

// LoadSettings defers the settings payload until no task of any kind is
// running. A newer payload overwrites an undrained older one.
func (w *Workspace) LoadSettings(data []byte) {
	w.mu.Lock()
	w.pendingSettings = data
	w.mu.Unlock()
	w.drainSettings()
}

// drainSettings starts the deferred settings task when the runner is idle.
// It runs on loadSettings calls and on every no-tasks signal.
func (w *Workspace) drainSettings() {
	w.mu.Lock()
	if w.pendingSettings == nil || !w.runner.Idle() {
		w.mu.Unlock()
		return
	}
	payload := w.pendingSettings
	w.pendingSettings = nil
	w.mu.Unlock()

	p, err := w.runner.Start(task.KindLoadSettings, payload)
	if err != nil {
		w.appendError(err.Error())
		return
	}
	go w.awaitOutcome(p, func(result any) {
		settings, err := coerceResult[loader.Settings](result)
		if err != nil {
			w.appendError(fmt.Sprintf("%s result: %v", task.KindLoadSettings, err))
			return
		}
		w.mu.Lock()
		w.settings = settings
		w.mu.Unlock()
		w.bus.Publish(event.SettingsChange)
	})
}

// LoadFiles classifies a batch of named input files and dispatches each to
// its loader. Unknown files land in the error log; the rest still load.
func (w *Workspace) LoadFiles(files map[string][]byte) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	routed := loader.ClassifyFiles(names)

	for class, group := range routed {
		for _, name := range group {
			data := files[name]
			var err error
			switch class {
			case loader.ClassImage:
				err = w.LoadImage(data)
			case loader.ClassMesh:
				err = w.LoadMesh(data)
			case loader.ClassMaterial:
				err = w.LoadMaterial(data)
			case loader.ClassMeasures:
				err = w.LoadIntensities(data)
			case loader.ClassSettings:
				w.LoadSettings(data)
			default:
				w.appendError(fmt.Sprintf("unsupported file %q", name))
			}
			if err != nil {
				w.appendError(fmt.Sprintf("loading %q: %v", name, err))
			}
		}
	}
}

// Download exports named artifacts: "settings" yields the loaded settings
// blob, a measure name yields a CSV of spot coordinates and that measure's
// raw values.
func (w *Workspace) Download(names []string) (map[string][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string][]byte, len(names))
	for _, name := range names {
		if name == "settings" {
			if w.settings == nil {
				return nil, fmt.Errorf("no settings loaded")
			}
			blob, err := json.Marshal(w.settings)
			if err != nil {
				return nil, err
			}
			out["settings.json"] = blob
			continue
		}

		m := w.measureByNameLocked(name)
		if m == nil {
			return nil, fmt.Errorf("unknown measure %q", name)
		}
		out[name+".csv"] = w.exportMeasureLocked(m)
	}
	return out, nil
}

func (w *Workspace) measureByNameLocked(name string) *model.Measure {
	if w.dataset == nil {
		return nil
	}
	for i := range w.dataset.Measures {
		if w.dataset.Measures[i].Name == name {
			return &w.dataset.Measures[i]
		}
	}
	return nil
}

func (w *Workspace) exportMeasureLocked(m *model.Measure) []byte {
	var buf bytes.Buffer
	buf.WriteString("name,x,y,z," + m.Name + "\n")
	for i, s := range w.dataset.Spots {
		buf.WriteString(s.Name)
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(s.X, 'g', -1, 64))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(s.Y, 'g', -1, 64))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(s.Z, 'g', -1, 64))
		buf.WriteByte(',')
		if i < len(m.Values) {
			buf.WriteString(strconv.FormatFloat(m.Values[i], 'g', -1, 64))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// publish fires the collected event names in order.
func (w *Workspace) publish(events []event.Name) {
	for _, e := range events {
		w.bus.Publish(e)
	}
}
