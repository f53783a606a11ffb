package task

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Status is one state of the worker message protocol.
type Status string

const (
	StatusReady     Status = "ready"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Message is one worker-protocol message. A worker emits zero or more
// working messages followed by exactly one completed or failed message.
// Cold-start workers emit ready before they will accept a payload.
type Message struct {
	Status Status
	Note   string // working progress or failure message
	Result any    // completed payload
}

// Process is one launched worker execution belonging to a single task.
type Process interface {
	// Messages yields protocol messages until the channel is closed. The
	// channel closes after the terminal message, or without one when the
	// worker is killed or crashes.
	Messages() <-chan Message
	// Post delivers the operation payload to the worker.
	Post(payload any) error
	// Kill terminates the worker. Idempotent; safe after completion.
	Kill()
}

// Executor launches worker executions for one task kind.
type Executor interface {
	Launch(ctx context.Context) (Process, error)
}

// Func is the body of an in-process worker. progress may be called to report
// working status; the returned value becomes the completed result.
type Func func(ctx context.Context, payload any, progress func(note string)) (any, error)

// InProcessExecutor runs the worker function on a goroutine. In-process
// workers are warm: they accept the payload immediately at launch.
type InProcessExecutor struct {
	Run Func
}

// Launch returns a process awaiting its payload.
func (e InProcessExecutor) Launch(ctx context.Context) (Process, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &inProcess{
		ctx:    ctx,
		cancel: cancel,
		run:    e.Run,
		msgs:   make(chan Message, 4),
	}, nil
}

type inProcess struct {
	ctx      context.Context
	cancel   context.CancelFunc
	run      Func
	msgs     chan Message
	postOnce sync.Once
}

func (p *inProcess) Messages() <-chan Message { return p.msgs }

func (p *inProcess) Post(payload any) error {
	p.postOnce.Do(func() {
		go func() {
			defer close(p.msgs)
			result, err := p.run(p.ctx, payload, p.progress)
			if p.ctx.Err() != nil {
				// Killed: no terminal message, no partial result.
				return
			}
			if err != nil {
				p.msgs <- Message{Status: StatusFailed, Note: err.Error()}
				return
			}
			p.msgs <- Message{Status: StatusCompleted, Result: result}
		}()
	})
	return nil
}

func (p *inProcess) progress(note string) {
	select {
	case p.msgs <- Message{Status: StatusWorking, Note: note}:
	case <-p.ctx.Done():
	}
}

func (p *inProcess) Kill() { p.cancel() }

// IsolatedExecutor spawns an external worker command speaking
// newline-delimited JSON: the payload is written to stdin as one JSON line,
// protocol messages arrive on stdout as {"status": ..., "message": ...}
// objects. Completed messages carry their result fields inline. Isolated
// workers are cold-start: they emit ready once initialized.
type IsolatedExecutor struct {
	Command string
	Args    []string
}

// Launch spawns the worker command.
func (e IsolatedExecutor) Launch(ctx context.Context) (Process, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("spawning worker %s: %w", e.Command, err)
	}

	p := &isolatedProcess{
		cancel: cancel,
		cmd:    cmd,
		stdin:  stdin,
		msgs:   make(chan Message, 4),
	}
	go p.pump(stdout)
	return p, nil
}

type isolatedProcess struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	msgs   chan Message
}

func (p *isolatedProcess) Messages() <-chan Message { return p.msgs }

func (p *isolatedProcess) Post(payload any) error {
	if err := json.NewEncoder(p.stdin).Encode(payload); err != nil {
		return fmt.Errorf("posting payload: %w", err)
	}
	return nil
}

func (p *isolatedProcess) Kill() {
	p.cancel()
	p.stdin.Close()
}

func (p *isolatedProcess) pump(stdout io.Reader) {
	defer close(p.msgs)
	defer p.cmd.Wait()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := decodeWireMessage(line)
		if err != nil {
			p.msgs <- Message{Status: StatusFailed, Note: fmt.Sprintf("malformed worker message: %v", err)}
			return
		}
		p.msgs <- msg
		if msg.Status == StatusCompleted || msg.Status == StatusFailed {
			return
		}
	}
	// Stream ended without a terminal message: the worker crashed.
}

func decodeWireMessage(line []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Message{}, err
	}
	var status string
	if err := json.Unmarshal(raw["status"], &status); err != nil {
		return Message{}, fmt.Errorf("missing status field")
	}

	msg := Message{Status: Status(status)}
	if m, ok := raw["message"]; ok {
		json.Unmarshal(m, &msg.Note)
	}

	switch msg.Status {
	case StatusReady, StatusWorking, StatusFailed:
	case StatusCompleted:
		// Result fields ride alongside status on the wire.
		result := make(map[string]json.RawMessage, len(raw))
		for k, v := range raw {
			if k == "status" {
				continue
			}
			result[k] = v
		}
		msg.Result = result
	default:
		return Message{}, fmt.Errorf("unknown status %q", status)
	}
	return msg, nil
}
