package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bidstack/marketsync/internal/plan"
	"github.com/bidstack/marketsync/internal/remote"
	"github.com/bidstack/marketsync/internal/store"
)

// Direction selects which phases a cycle runs.
type Direction int

const (
	// DirectionBidirectional runs download, upload, and queue replay.
	DirectionBidirectional Direction = iota
	// DirectionDownload runs only the download phase.
	DirectionDownload
	// DirectionUpload runs only upload and queue replay.
	DirectionUpload
)

// String returns the CLI/log spelling of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionDownload:
		return "download"
	case DirectionUpload:
		return "upload"
	default:
		return "bidirectional"
	}
}

// ParseDirection converts a CLI spelling into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "bidirectional", "":
		return DirectionBidirectional, nil
	case "download":
		return DirectionDownload, nil
	case "upload":
		return DirectionUpload, nil
	}
	return 0, fmt.Errorf("unknown sync direction %q", s)
}

func (d Direction) includesDownload() bool { return d != DirectionUpload }
func (d Direction) includesUpload() bool   { return d != DirectionDownload }

// Options tunes one sync cycle.
type Options struct {
	Direction Direction
	// BatchSize overrides the plan's upload batch cap; zero keeps it.
	BatchSize int
	// Timeout bounds every remote round-trip in the cycle; zero keeps the
	// engine default.
	Timeout time.Duration
}

// State is the orchestrator's lifecycle state.
type State int

const (
	// StateIdle means no cycle is in flight.
	StateIdle State = iota
	// StateSyncing means exactly one cycle is running.
	StateSyncing
)

// String returns the status spelling of the state.
func (s State) String() string {
	if s == StateSyncing {
		return "syncing"
	}
	return "idle"
}

// Status is the published snapshot of the orchestrator.
type Status struct {
	Active       bool         `json:"active"`
	LastSyncTime *time.Time   `json:"last_sync_time,omitempty"`
	LastCycle    int64        `json:"last_cycle"`
	Errors       []*SyncError `json:"errors,omitempty"`
	Stats        store.Stats  `json:"stats"`
}

// Listener receives status snapshots after every cycle.
type Listener func(Status)

// Engine coordinates sync cycles between the Local Store and the remote
// collaborators.
//
// Thread-safety model:
//   - SyncAll / ForceSync / Status / OnStatusChange: safe from any
//     goroutine
//   - at most one cycle runs at a time; a SyncAll issued while a cycle is
//     in flight returns the current status unchanged, never queued
//   - trigger producers (timer, connectivity, foreground) feed one
//     command channel drained by a single runner goroutine
type Engine struct {
	store  *store.Store
	collab *remote.Collaborators
	plan   *plan.Plan
	logger *slog.Logger

	now            func() time.Time
	interval       time.Duration
	defaultTimeout time.Duration
	cycles         *CycleClock

	mu           sync.Mutex
	idle         *sync.Cond
	state        State
	status       Status
	listeners    map[int]Listener
	nextListener int

	commands chan Options
	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopped  bool
}

// DefaultInterval is the recurring upload-only safety-net period.
const DefaultInterval = 5 * time.Minute

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow overrides the wall clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithInterval sets the recurring timer period. Zero disables the timer.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithTimeout sets the default per-round-trip timeout applied when
// Options.Timeout is zero.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

// New creates an Engine over the given store, collaborators, and plan.
// A nil plan uses plan.Default().
func New(s *store.Store, collab *remote.Collaborators, p *plan.Plan, opts ...Option) *Engine {
	if p == nil {
		p = plan.Default()
	}

	e := &Engine{
		store:     s,
		collab:    collab,
		plan:      p,
		logger:    slog.Default(),
		now:       time.Now,
		interval:  DefaultInterval,
		cycles:    NewCycleClock(),
		listeners: make(map[int]Listener),
		commands:  make(chan Options, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.idle = sync.NewCond(&e.mu)
	e.logger = e.logger.With("component", "sync-engine")
	return e
}

// Init validates the wiring and starts the trigger runner. Idempotent.
func (e *Engine) Init() error {
	if err := e.collab.Validate(); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	if err := e.plan.Validate(); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if e.stopped {
		return errors.New("init engine: already cleaned up")
	}
	e.started = true

	go e.run()
	return nil
}

// SyncAll runs one synchronization cycle and returns the resulting status.
//
// If a cycle is already in flight the request is dropped with a logged
// warning and the current status is returned unchanged; concurrent
// requests are never queued. After Cleanup the request is refused with an
// error.
func (e *Engine) SyncAll(ctx context.Context, opts Options) (Status, error) {
	switch err := e.beginCycle(); {
	case errors.Is(err, errSyncInFlight):
		e.logger.Warn("sync already in progress, dropping request",
			"direction", opts.Direction.String())
		return e.Snapshot(), nil
	case err != nil:
		return e.Snapshot(), fmt.Errorf("sync: %w", err)
	}

	status, err := e.runCycle(ctx, opts)
	status.Active = false
	e.endCycle(status)
	return status, err
}

// ForceSync triggers an immediate bidirectional cycle with defaults.
func (e *Engine) ForceSync(ctx context.Context) (Status, error) {
	return e.SyncAll(ctx, Options{Direction: DirectionBidirectional})
}

// ResetAndResync clears the Local Store, then runs a download-only cycle
// to repopulate it from the remote authority.
func (e *Engine) ResetAndResync(ctx context.Context) (Status, error) {
	if err := e.beginCycle(); err != nil {
		return e.Snapshot(), fmt.Errorf("reset: %w", err)
	}

	if err := e.store.ClearAll(ctx); err != nil {
		status := e.Snapshot()
		e.endCycle(status)
		return status, fmt.Errorf("reset: %w", err)
	}
	e.logger.Info("local store cleared, starting resync")

	status, err := e.runCycle(ctx, Options{Direction: DirectionDownload})
	status.Active = false
	e.endCycle(status)
	return status, err
}

// Snapshot returns the current status.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	s := e.status
	s.Active = e.state == StateSyncing
	s.Errors = append([]*SyncError(nil), e.status.Errors...)
	return s
}

// OnStatusChange registers a listener invoked with a snapshot after every
// cycle. The returned function unsubscribes it.
func (e *Engine) OnStatusChange(fn Listener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// NotifyForeground signals that the application moved to the foreground,
// requesting a bidirectional cycle.
func (e *Engine) NotifyForeground() {
	e.enqueueTrigger(Options{Direction: DirectionBidirectional}, "foreground")
}

// Cleanup stops the timer and trigger listeners, waits for the runner to
// exit, and closes the Local Store. A cycle already in flight runs to
// completion first. Safe to call more than once.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	started := e.started
	e.mu.Unlock()

	if started {
		close(e.stop)
		<-e.done
	}

	// A direct SyncAll that claimed the cycle slot before stopped was set
	// still owns the store; wait for it to reach Idle before closing.
	e.mu.Lock()
	for e.state == StateSyncing {
		e.idle.Wait()
	}
	e.mu.Unlock()

	return e.store.Close()
}

var (
	errSyncInFlight = errors.New("sync already in progress")
	errEngineClosed = errors.New("engine already cleaned up")
)

// beginCycle is the single in-flight-cycle guard: an atomic check-and-set
// from Idle to Syncing. Refused once Cleanup has run, so a late request
// never races the closing store.
func (e *Engine) beginCycle() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errEngineClosed
	}
	if e.state == StateSyncing {
		return errSyncInFlight
	}
	e.state = StateSyncing
	return nil
}

// endCycle returns to Idle, stores the snapshot, and publishes it.
func (e *Engine) endCycle(status Status) {
	e.mu.Lock()
	e.state = StateIdle
	status.Active = false
	e.status = status
	listeners := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	e.idle.Broadcast()
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}
