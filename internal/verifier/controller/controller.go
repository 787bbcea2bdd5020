// Package controller runs one test part or step: it reports progress,
// offers the cancellation checkpoints every long operation polls, and
// finalizes the run exactly once however the body ends.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	fsmutil "github.com/autopeer-io/obdverify/internal/pkg/util/fsm"
	"github.com/autopeer-io/obdverify/internal/verifier/bus"
	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/pkg/log"
)

var (
	// ErrInterrupted is returned by the progress checkpoints once the run
	// has been stopped, aborted or failed.
	ErrInterrupted = errors.New("run interrupted")
	// ErrRunning is returned when a run is started while another is active.
	ErrRunning = errors.New("a run is already active")
)

const genericErrorMessage = "An unexpected error occurred"

// RunFunc is the body of a run. It returns ErrInterrupted, or an error
// wrapping it, when a checkpoint tells it to unwind.
type RunFunc func(ctx context.Context, c *Controller) error

// Controller executes a RunFunc at most once at a time.
type Controller struct {
	name  string
	total int
	body  RunFunc
	clock clock.Clock
	log   log.Logger

	// afterBody runs between the body and finalization; tests use it to
	// race Stop against completion.
	afterBody func()

	mu        sync.Mutex
	fsm       *fsm.FSM
	active    bool
	finalized bool
	progress  int
	listener  listener.Listener
	transport bus.Transport
	cancel    context.CancelFunc
	done      chan struct{}
	started   time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the clock used for report headers.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithLogger sets the logger; the default is the process logger.
func WithLogger(l log.Logger) Option {
	return func(ctrl *Controller) { ctrl.log = l }
}

// New returns a controller named name whose body reports total steps of
// progress.
func New(name string, total int, body RunFunc, opts ...Option) *Controller {
	c := &Controller{
		name:     name,
		total:    total,
		body:     body,
		clock:    clock.RealClock{},
		log:      log.WithName("controller").WithValues("run", name),
		listener: listener.Base{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the run name.
func (c *Controller) Name() string { return c.name }

// Execute binds l, sink and t and runs the body on its own goroutine. sink
// receives every callback after l. Use Done or Wait to learn when the run
// has been finalized.
func (c *Controller) Execute(ctx context.Context, l listener.Listener, t bus.Transport, sink listener.Listener) error {
	listeners := listener.List{l}
	if sink != nil {
		listeners = append(listeners, sink)
	}
	runCtx, err := c.bind(ctx, listeners, t)
	if err != nil {
		return err
	}
	go c.execute(runCtx)
	return nil
}

// Run runs the body on the calling goroutine and returns the final state.
func (c *Controller) Run(ctx context.Context, l listener.Listener, t bus.Transport) (State, error) {
	runCtx, err := c.bind(ctx, l, t)
	if err != nil {
		return c.State(), err
	}
	c.execute(runCtx)
	return c.State(), nil
}

func (c *Controller) bind(ctx context.Context, l listener.Listener, t bus.Transport) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil, ErrRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.fsm = newStateMachine()
	c.active = true
	c.finalized = false
	c.progress = 0
	c.listener = l
	c.transport = t
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = c.clock.Now()
	return runCtx, nil
}

func (c *Controller) execute(ctx context.Context) {
	stopOnCancel := context.AfterFunc(ctx, c.Stop)
	defer func() {
		stopOnCancel()
		c.finished()
	}()

	c.Listener().OnResult(fmt.Sprintf("START %s at %s", c.name, c.started.Format(time.DateTime)))
	err := c.runBody(ctx)
	if ctx.Err() != nil {
		c.Stop()
	}
	if err == nil {
		c.event(EventComplete)
	} else {
		c.handleError(err)
	}
	if c.afterBody != nil {
		c.afterBody()
	}
}

func (c *Controller) runBody(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run %s panicked: %v", c.name, r)
		}
	}()
	return c.body(ctx, c)
}

// handleError treats interruption as an ordinary ending and reports
// anything else to the operator.
func (c *Controller) handleError(err error) {
	if errors.Is(err, ErrInterrupted) {
		return
	}
	if c.State().Interrupted() && (errors.Is(err, bus.ErrTransportClosed) || errors.Is(err, context.Canceled)) {
		return
	}

	c.log.Error(err, "Run failed")
	msg := err.Error()
	if strings.TrimSpace(msg) == "" {
		msg = genericErrorMessage
	}
	c.Listener().OnUrgentMessage(msg, "Error", model.MessageError, nil)
}

// finished finalizes the run. A run still RUNNING is aborted.
func (c *Controller) finished() {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	if State(c.fsm.Current()) == StateRunning {
		c.eventLocked(EventAbort)
	}
	state := State(c.fsm.Current())
	l := c.listener
	elapsed := c.clock.Since(c.started)
	done := c.done
	cancel := c.cancel
	c.mu.Unlock()

	l.OnResult(footer(c.name, state))
	l.OnResult(fmt.Sprintf("END %s at %s after %s", c.name, c.clock.Now().Format(time.DateTime), elapsed.Round(time.Second)))
	l.OnComplete(state == StateCompleted)
	c.log.Info("Run finished", "state", state, "elapsed", elapsed)

	cancel()
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	close(done)
}

func footer(name string, state State) string {
	switch state {
	case StateCompleted:
		return fmt.Sprintf("*** %s completed ***", name)
	case StateStopped:
		return fmt.Sprintf("*** %s stopped by the operator ***", name)
	case StateFailed:
		return fmt.Sprintf("*** %s failed ***", name)
	default:
		return fmt.Sprintf("*** %s aborted ***", name)
	}
}

// Stop ends the active run: the state becomes STOPPED and the transport is
// closed so that blocked reads return. It may be called from any goroutine
// and has no effect once the run has been finalized.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active || c.finalized {
		c.mu.Unlock()
		return
	}
	c.eventLocked(EventStop)
	t := c.transport
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	if t != nil {
		if err := t.Close(); err != nil {
			c.log.Error(err, "Failed to close transport")
		}
	}
}

// Abort marks the run ABORTED; the next checkpoint unwinds it.
func (c *Controller) Abort() { c.event(EventAbort) }

// Fail marks the run FAILED; the next checkpoint unwinds it.
func (c *Controller) Fail() { c.event(EventFail) }

func (c *Controller) event(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.eventLocked(name)
}

func (c *Controller) eventLocked(name string) {
	if c.fsm == nil {
		return
	}
	if err := c.fsm.Event(context.Background(), name); fsmutil.IsRealError(err) {
		c.log.Error(err, "State transition failed", "event", name)
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fsm == nil {
		return StateIdle
	}
	return State(c.fsm.Current())
}

// Done is closed once the current run has been finalized.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Wait blocks until the current run has been finalized or ctx ends and
// returns the state.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	select {
	case <-c.Done():
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// IncrementProgress advances the progress counter, reports message and
// then checks for interruption.
func (c *Controller) IncrementProgress(message string) error {
	c.mu.Lock()
	c.progress++
	current := c.progress
	l := c.listener
	c.mu.Unlock()

	l.OnProgress(current, c.total, message)
	return c.checkpoint()
}

// UpdateProgress reports message and then checks for interruption.
func (c *Controller) UpdateProgress(message string) error {
	c.Listener().OnProgressMessage(message)
	return c.checkpoint()
}

func (c *Controller) checkpoint() error {
	if state := c.State(); state.Interrupted() {
		return fmt.Errorf("%w: %s", ErrInterrupted, state)
	}
	return nil
}

// Listener returns the listener of the current run.
func (c *Controller) Listener() listener.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

// Transport returns the transport of the current run.
func (c *Controller) Transport() bus.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}
