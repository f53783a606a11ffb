// Package workspace implements the controller that owns the canonical data
// model, drives background load tasks and derives per-spot display
// intensities from raw measure values.
package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/ili-toolbox/ili-server/internal/event"
	"github.com/ili-toolbox/ili-server/internal/loader"
	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/internal/scene"
	"github.com/ili-toolbox/ili-server/internal/task"
	"github.com/ili-toolbox/ili-server/pkg/colormap"
	"github.com/ili-toolbox/ili-server/pkg/scale"
)

// Config wires the workspace to its collaborators.
type Config struct {
	Bus     *event.Bus
	Scene2D *scene.Scene2D
	Scene3D *scene.Scene3D

	ScaleID    string // default "linear"
	ColormapID string // default "red-hot"

	SpotRadius float64 // mapping cutoff radius in mesh units

	// WorkerCommands optionally routes task kinds to external worker
	// processes (cold-start, newline-JSON protocol). Kinds left out run
	// in-process.
	WorkerCommands map[task.Kind]string

	// Kinds overrides individual entries of the built-in executor table.
	Kinds map[task.Kind]task.KindConfig
}

// Workspace is the single logical owner of the data model. All mutation
// happens under its mutex, on reaction to task completion or direct calls.
type Workspace struct {
	mu sync.Mutex

	bus    *event.Bus
	runner *task.Runner

	scene2d *scene.Scene2D
	scene3d *scene.Scene3D

	mode    model.Mode
	dataset *model.Dataset
	active  int // index into dataset.Measures, -1 when none

	scaleID string
	sc      scale.Scale
	cmID    string
	cm      colormap.Colormap

	autoMinMax      bool
	minValue        float64
	maxValue        float64
	hotspotQuantile float64

	spotRadius float64

	status string
	errors []string

	pendingSettings []byte
	settings        loader.Settings
}

// New creates a workspace and registers its task kinds. The no-tasks
// subscription that drains deferred settings is made here, explicitly, as
// part of initialization.
func New(cfg Config) (*Workspace, error) {
	if cfg.ScaleID == "" {
		cfg.ScaleID = "linear"
	}
	if cfg.ColormapID == "" {
		cfg.ColormapID = "red-hot"
	}
	if cfg.SpotRadius <= 0 {
		cfg.SpotRadius = 10
	}

	sc, err := scale.Lookup(cfg.ScaleID)
	if err != nil {
		return nil, err
	}
	cm, err := colormap.Lookup(cfg.ColormapID)
	if err != nil {
		return nil, err
	}

	w := &Workspace{
		bus:             cfg.Bus,
		scene2d:         cfg.Scene2D,
		scene3d:         cfg.Scene3D,
		mode:            model.ModeUndefined,
		active:          -1,
		scaleID:         cfg.ScaleID,
		sc:              sc,
		cmID:            cfg.ColormapID,
		cm:              cm,
		autoMinMax:      true,
		hotspotQuantile: 1.0,
		spotRadius:      cfg.SpotRadius,
	}

	kinds := w.taskKinds(cfg.WorkerCommands)
	for kind, kc := range cfg.Kinds {
		kinds[kind] = kc
	}
	w.runner = task.NewRunner(kinds, cfg.Bus, w.setStatus)

	// Draining runs on its own goroutine: no-tasks can fire while a caller
	// holds the workspace mutex through a cancellation.
	cfg.Bus.Subscribe(event.NoTasks, func() { go w.drainSettings() })

	return w, nil
}

// taskKinds builds the immutable per-kind executor table.
func (w *Workspace) taskKinds(workers map[task.Kind]string) map[task.Kind]task.KindConfig {
	kinds := map[task.Kind]task.KindConfig{
		task.KindLoadImage: {Executor: task.InProcessExecutor{
			Run: func(ctx context.Context, payload any, progress func(string)) (any, error) {
				return loader.DecodeImage(payload.([]byte))
			},
		}},
		task.KindLoadMesh: {Executor: task.InProcessExecutor{
			Run: func(ctx context.Context, payload any, progress func(string)) (any, error) {
				return loader.ParseOBJ(ctx, payload.([]byte), progress)
			},
		}},
		task.KindLoadMaterial: {Executor: task.InProcessExecutor{
			Run: func(ctx context.Context, payload any, progress func(string)) (any, error) {
				return loader.ParseMTL(payload.([]byte))
			},
		}},
		task.KindLoadMeasures: {Executor: task.InProcessExecutor{
			Run: func(ctx context.Context, payload any, progress func(string)) (any, error) {
				return loader.ParseMeasures(ctx, payload.([]byte), progress)
			},
		}},
		task.KindLoadSettings: {Executor: task.InProcessExecutor{
			Run: func(ctx context.Context, payload any, progress func(string)) (any, error) {
				return loader.ParseSettings(payload.([]byte))
			},
		}},
		task.KindMap: {Executor: task.InProcessExecutor{
			Run: func(ctx context.Context, payload any, progress func(string)) (any, error) {
				p := payload.(mapPayload)
				progress("mapping spots to mesh")
				return scene.BuildMapping(p.mesh, p.spots, p.radius), nil
			},
		}},
	}
	for kind, command := range workers {
		kinds[kind] = task.KindConfig{
			Executor:  task.IsolatedExecutor{Command: command, Args: []string{string(kind)}},
			ColdStart: true,
		}
	}
	return kinds
}

type mapPayload struct {
	mesh   *scene.Mesh
	spots  []*model.Spot
	radius float64
}

// Mode returns the current mode.
func (w *Workspace) Mode() model.Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Status returns the shared progress message of the most recent working
// report, across all task kinds.
func (w *Workspace) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Workspace) setStatus(note string) {
	w.mu.Lock()
	w.status = note
	w.mu.Unlock()
	w.bus.Publish(event.StatusChange)
}

// Errors returns a copy of the error log.
func (w *Workspace) Errors() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.errors))
	copy(out, w.errors)
	return out
}

// ClearErrors empties the error log. The log is otherwise append-only.
func (w *Workspace) ClearErrors() {
	w.mu.Lock()
	w.errors = w.errors[:0]
	w.mu.Unlock()
	w.bus.Publish(event.ErrorsChange)
}

func (w *Workspace) appendError(msg string) {
	w.mu.Lock()
	w.errors = append(w.errors, msg)
	w.status = ""
	w.mu.Unlock()
	w.bus.Publish(event.ErrorsChange)
	w.bus.Publish(event.StatusChange)
}

// RunningTasks returns the kinds with a live task.
func (w *Workspace) RunningTasks() []task.Kind {
	return w.runner.Running()
}

// MeasureNames returns measure names in load order.
func (w *Workspace) MeasureNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dataset.MeasureNames()
}

// ActiveMeasure returns the selected measure index, -1 when none.
func (w *Workspace) ActiveMeasure() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Spots returns the current spot sequence for reading.
func (w *Workspace) Spots() []*model.Spot {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dataset == nil {
		return nil
	}
	return w.dataset.Spots
}

// Settings returns the last loaded settings blob, nil before any load.
func (w *Workspace) Settings() loader.Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings
}

// awaitOutcome consumes one task future. Cancelled outcomes resolve nothing;
// failures land in the error log; completed results go to apply. A terminal
// outcome of either flavor clears the shared status line.
func (w *Workspace) awaitOutcome(p *task.Pending, apply func(result any)) {
	out := <-p.Done()
	switch {
	case out.Cancelled:
		return
	case out.Err != nil:
		w.appendError(fmt.Sprintf("%s: %v", p.Kind, out.Err))
	default:
		apply(out.Result)
		w.setStatus("")
	}
}
