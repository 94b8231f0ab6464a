package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/speechlens/speechlens/internal/analyzer"
	"github.com/speechlens/speechlens/internal/source"
)

// DefaultSnapshotInterval is how often a live analytics snapshot is emitted
// while recording.
const DefaultSnapshotInterval = 2 * time.Second

// Sink receives controller output. At most one sink is attached per
// controller; it replaces the previous one wholesale.
type Sink interface {
	OnTranscriptUpdate(finalText, interim string)
	OnAnalyticsUpdate(snapshot analyzer.Snapshot, final bool)
}

// Controller owns the Idle/Recording state machine for a single analytics
// session. All mutation is serialized on one mutex, so fragment handling,
// timer ticks, and stream signals never race; a tick's snapshot reflects
// every fragment processed before it.
type Controller struct {
	mu         sync.Mutex
	log        *slog.Logger
	an         *analyzer.TranscriptAnalyzer
	src        source.Source
	sink       Sink
	interval   time.Duration
	ctx        context.Context
	recording  bool
	disabled   bool
	cancelTick func()
}

// New builds a controller. A nil src means no capture capability exists on
// this deployment: the condition is logged once and every subsequent
// operation is a no-op. A nil clock uses time.Now.
func New(parent context.Context, src source.Source, sink Sink, interval time.Duration, clock func() time.Time, log *slog.Logger) *Controller {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	c := &Controller{
		log:      log.With(slog.String("component", "session-controller")),
		an:       analyzer.New(clock),
		src:      src,
		sink:     sink,
		interval: interval,
		ctx:      parent,
		disabled: src == nil,
	}
	if c.disabled {
		c.log.Warn("no speech capture source available; analytics permanently disabled")
	}
	return c
}

// Start resets session state, transitions to Recording, begins capture, and
// schedules the periodic snapshot task. Capture start failures are logged
// and swallowed; the session stays consistent either way.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.disabled || c.recording {
		c.mu.Unlock()
		return
	}
	c.an.Begin()
	c.recording = true
	c.scheduleTickLocked()
	c.mu.Unlock()

	c.log.Info("session started", slog.Duration("snapshot_interval", c.interval))
	if err := c.src.Start(c.ctx); err != nil {
		c.log.Warn("failed to start capture source", slogError(err))
	}
}

// Stop transitions to Idle, cancels the snapshot task, stops capture, and
// emits the terminating snapshot if a session was active. A zero-duration
// session still finalizes, with pace 0.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return
	}
	c.cancelTickLocked()
	wasRecording := c.recording
	c.recording = false
	snapshot := c.an.End()
	c.mu.Unlock()

	if snapshot != nil {
		if snapshot.DurationSeconds == 0 {
			c.log.Warn("session stopped with zero duration; pace is not meaningful")
		}
		c.sink.OnAnalyticsUpdate(*snapshot, true)
	}
	if wasRecording {
		c.log.Info("session stopped")
		if err := c.src.Stop(); err != nil {
			c.log.Warn("failed to stop capture source", slogError(err))
		}
	}
}

// HandleFragment folds one recognized fragment into the session and surfaces
// the updated transcript. Fragments arriving while Idle are dropped.
func (c *Controller) HandleFragment(text string, final bool) {
	c.mu.Lock()
	if c.disabled || !c.recording {
		c.mu.Unlock()
		return
	}
	c.an.ProcessFragment(text, !final)
	finalText := c.an.Transcript()
	interim := c.an.Interim()
	c.mu.Unlock()

	c.sink.OnTranscriptUpdate(finalText, interim)
}

// HandleStreamEnded reacts to the capture stream stopping. While Recording
// this is unexpected (silence timeout or similar) and the source is asked to
// restart with all counters preserved. While Idle it confirms a deliberate
// stop: the timer is cancelled and the session finalizes, at most once.
func (c *Controller) HandleStreamEnded() {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return
	}
	if c.recording {
		c.mu.Unlock()
		c.log.Info("capture stream ended while recording; restarting")
		if err := c.src.Restart(c.ctx); err != nil {
			c.log.Warn("failed to restart capture source", slogError(err))
		}
		return
	}
	c.cancelTickLocked()
	snapshot := c.an.End()
	c.mu.Unlock()

	if snapshot != nil {
		c.sink.OnAnalyticsUpdate(*snapshot, true)
	}
}

// HandleStreamError treats a capture error as an implicit Stop. No resume is
// attempted.
func (c *Controller) HandleStreamError(reason string) {
	c.mu.Lock()
	disabled := c.disabled
	c.mu.Unlock()
	if disabled {
		return
	}
	c.log.Warn("capture stream error", slog.String("reason", reason))
	c.Stop()
}

// Enabled reports whether capture capability exists at all; a disabled
// controller stays disabled for its whole lifetime.
func (c *Controller) Enabled() bool {
	return !c.disabled
}

// Transcript returns the accumulated final transcript.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.an.Transcript()
}

// Listening reports whether a session is currently recording.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// scheduleTickLocked creates the periodic snapshot task. The returned cancel
// handle is the only way the ticker goroutine exits, and cancelTickLocked
// guarantees it runs exactly once per session.
func (c *Controller) scheduleTickLocked() {
	ticker := time.NewTicker(c.interval)
	done := make(chan struct{})
	c.cancelTick = func() {
		ticker.Stop()
		close(done)
	}
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.emitSnapshot(false)
			}
		}
	}()
}

func (c *Controller) cancelTickLocked() {
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
}

func (c *Controller) emitSnapshot(final bool) {
	c.mu.Lock()
	snapshot := c.an.Snapshot(final)
	c.mu.Unlock()
	if snapshot == nil {
		return
	}
	c.sink.OnAnalyticsUpdate(*snapshot, final)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
