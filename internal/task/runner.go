// Package task runs named background operations with at-most-one-task-per-kind
// semantics and a four-state worker message protocol.
package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ili-toolbox/ili-server/internal/event"
)

// Kind is a category of background operation with exclusive-execution
// semantics: at most one live task per kind at any time.
type Kind string

const (
	KindLoadImage    Kind = "load-image"
	KindLoadMesh     Kind = "load-mesh"
	KindLoadMaterial Kind = "load-material"
	KindLoadMeasures Kind = "load-measures"
	KindLoadSettings Kind = "load-settings"
	KindMap          Kind = "map"
)

// KindConfig declares how one task kind is executed. Cold-start kinds hold
// the payload until the worker reports ready; warm kinds receive it at launch.
type KindConfig struct {
	Executor  Executor
	ColdStart bool
}

// Outcome is the terminal result of one task. Exactly one of the three holds:
// a completed Result, a failure Err, or Cancelled. Cancellation is never an
// error; a superseded or cancelled task resolves nothing else.
type Outcome struct {
	Result    any
	Err       error
	Cancelled bool
}

// Pending is the future for one launched task.
type Pending struct {
	Kind   Kind
	Handle string
	done   chan Outcome
}

// Done yields the task's outcome exactly once.
func (p *Pending) Done() <-chan Outcome { return p.done }

type instance struct {
	kind      Kind
	handle    string
	cancel    context.CancelFunc
	proc      Process
	pending   *Pending
	startTime time.Time
	retired   bool // guarded by Runner.mu; set once on terminal/cancel
}

// Runner executes one task at a time per kind. Different kinds run fully in
// parallel; starting a kind that is already running cancels the older task
// first (last request wins, the older in-flight request resolves nothing).
type Runner struct {
	mu    sync.Mutex
	kinds map[Kind]KindConfig
	live  map[Kind]*instance

	bus *event.Bus
	// OnStatus receives working-progress notes. A single status string is
	// shared across kinds, last-writer-wins, matching the original viewer.
	onStatus func(note string)
}

// NewRunner creates a runner over the given kind table.
func NewRunner(kinds map[Kind]KindConfig, bus *event.Bus, onStatus func(string)) *Runner {
	if onStatus == nil {
		onStatus = func(string) {}
	}
	return &Runner{
		kinds:    kinds,
		live:     make(map[Kind]*instance),
		bus:      bus,
		onStatus: onStatus,
	}
}

// Start launches a task of the given kind, cancelling any live task of the
// same kind first. The returned Pending resolves when the worker reports
// completed or failed; it resolves as Cancelled when superseded or cancelled.
func (r *Runner) Start(kind Kind, payload any) (*Pending, error) {
	cfg, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}

	pending := &Pending{Kind: kind, Handle: newHandle(), done: make(chan Outcome, 1)}

	r.mu.Lock()
	if old, ok := r.live[kind]; ok {
		// Supersede: the replacement keeps the live set non-empty, so this
		// never fires no-tasks.
		r.retireLocked(old)
		old.pending.done <- Outcome{Cancelled: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		kind:      kind,
		handle:    pending.Handle,
		cancel:    cancel,
		pending:   pending,
		startTime: time.Now(),
	}
	r.live[kind] = inst
	r.mu.Unlock()

	proc, err := cfg.Executor.Launch(ctx)
	if err != nil {
		r.finish(inst, Outcome{Err: fmt.Errorf("launching %s: %w", kind, err)})
		return pending, nil
	}

	r.mu.Lock()
	if inst.retired {
		// Cancelled between registration and launch.
		r.mu.Unlock()
		proc.Kill()
		return pending, nil
	}
	inst.proc = proc
	r.mu.Unlock()

	go r.consume(inst, cfg, proc, payload)
	return pending, nil
}

func (r *Runner) consume(inst *instance, cfg KindConfig, proc Process, payload any) {
	if !cfg.ColdStart {
		if err := proc.Post(payload); err != nil {
			proc.Kill()
			r.finish(inst, Outcome{Err: err})
			return
		}
	}

	terminal := false
	for msg := range proc.Messages() {
		if terminal {
			continue // drain anything after the terminal message
		}
		switch msg.Status {
		case StatusReady:
			if cfg.ColdStart {
				if err := proc.Post(payload); err != nil {
					proc.Kill()
					r.finish(inst, Outcome{Err: err})
					terminal = true
				}
			}
		case StatusWorking:
			if r.isLive(inst) {
				r.onStatus(msg.Note)
			}
		case StatusCompleted:
			r.finish(inst, Outcome{Result: msg.Result})
			terminal = true
		case StatusFailed:
			r.finish(inst, Outcome{Err: fmt.Errorf("%s", msg.Note)})
			terminal = true
		}
	}

	if !terminal {
		// Channel closed without a terminal message: worker crashed or was
		// killed. For a retired instance finish() drops this silently.
		r.finish(inst, Outcome{Err: fmt.Errorf("task %s terminated unexpectedly", inst.kind)})
	}
}

// finish retires the instance and delivers its outcome. Outcomes of retired
// (cancelled or superseded) instances are discarded: a late terminal message
// never resolves anything.
func (r *Runner) finish(inst *instance, out Outcome) {
	r.mu.Lock()
	if inst.retired {
		r.mu.Unlock()
		return
	}
	r.retireLocked(inst)
	empty := len(r.live) == 0
	r.mu.Unlock()

	inst.pending.done <- out
	if empty {
		r.bus.Publish(event.NoTasks)
	}
}

// retireLocked marks the instance dead and removes it from the live set.
// Caller holds r.mu.
func (r *Runner) retireLocked(inst *instance) {
	inst.retired = true
	if cur, ok := r.live[inst.kind]; ok && cur == inst {
		delete(r.live, inst.kind)
	}
	inst.cancel()
	if inst.proc != nil {
		inst.proc.Kill()
	}
}

func (r *Runner) isLive(inst *instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !inst.retired
}

// Cancel terminates the live task of the given kind, if any. Idempotent:
// cancelling an absent or finished task does nothing, and no no-tasks event
// fires on an empty-to-empty transition.
func (r *Runner) Cancel(kind Kind) {
	r.mu.Lock()
	inst, ok := r.live[kind]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.retireLocked(inst)
	empty := len(r.live) == 0
	r.mu.Unlock()

	log.Printf("[TaskRunner] cancelled %s after %s", kind, time.Since(inst.startTime).Round(time.Millisecond))
	inst.pending.done <- Outcome{Cancelled: true}
	if empty {
		r.bus.Publish(event.NoTasks)
	}
}

// Idle reports whether no task of any kind is live.
func (r *Runner) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live) == 0
}

// Running returns the kinds with a live task, for status reporting.
func (r *Runner) Running() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, 0, len(r.live))
	for k := range r.live {
		kinds = append(kinds, k)
	}
	return kinds
}

func newHandle() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
