package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/speechlens/speechlens/internal/analyzer"
	"github.com/speechlens/speechlens/internal/source"
)

type recordingSink struct {
	mu          sync.Mutex
	transcripts []string
	interims    []string
	snapshots   []analyzer.Snapshot
}

func (s *recordingSink) OnTranscriptUpdate(finalText, interim string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, finalText)
	s.interims = append(s.interims, interim)
}

func (s *recordingSink) OnAnalyticsUpdate(snapshot analyzer.Snapshot, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
}

func (s *recordingSink) finalSnapshots() []analyzer.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var finals []analyzer.Snapshot
	for _, snap := range s.snapshots {
		if snap.Final {
			finals = append(finals, snap)
		}
	}
	return finals
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestController(src source.Source) (*Controller, *recordingSink, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	sink := &recordingSink{}
	// An hour-long interval keeps the ticker quiet; tick behavior is
	// exercised through emitSnapshot directly.
	c := New(context.Background(), src, sink, time.Hour, clock, newLogger())
	return c, sink, &now
}

func TestStartStopLifecycle(t *testing.T) {
	src := source.NewMock()
	c, sink, now := newTestController(src)

	c.Start()
	if !c.Listening() {
		t.Fatal("expected controller listening after start")
	}
	c.HandleFragment("hello world", true)
	*now = now.Add(30 * time.Second)
	c.Stop()

	if c.Listening() {
		t.Fatal("expected controller idle after stop")
	}
	starts, stops, _ := src.Calls()
	if starts != 1 || stops != 1 {
		t.Fatalf("expected one start and one stop, got %d/%d", starts, stops)
	}
	finals := sink.finalSnapshots()
	if len(finals) != 1 {
		t.Fatalf("expected exactly one final snapshot, got %d", len(finals))
	}
	if finals[0].DurationSeconds != 30 {
		t.Fatalf("expected 30s duration, got %d", finals[0].DurationSeconds)
	}
	if got := c.Transcript(); got != "hello world" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestStartWhileRecordingIsNoOp(t *testing.T) {
	src := source.NewMock()
	c, _, _ := newTestController(src)

	c.Start()
	c.Start()

	starts, _, _ := src.Calls()
	if starts != 1 {
		t.Fatalf("expected one capture start, got %d", starts)
	}
	c.Stop()
}

func TestStartResetsPreviousSessionState(t *testing.T) {
	src := source.NewMock()
	c, _, _ := newTestController(src)

	c.Start()
	c.HandleFragment("first session words", true)
	c.Stop()

	c.Start()
	if got := c.Transcript(); got != "" {
		t.Fatalf("expected empty transcript in new session, got %q", got)
	}
	c.Stop()
}

func TestDisabledControllerNoOps(t *testing.T) {
	c, sink, _ := newTestController(nil)

	c.Start()
	c.HandleFragment("hello", true)
	c.HandleStreamEnded()
	c.HandleStreamError("boom")
	c.Stop()

	if c.Enabled() {
		t.Fatal("expected controller disabled without a source")
	}
	if c.Listening() {
		t.Fatal("expected disabled controller to never listen")
	}
	if got := c.Transcript(); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
	if len(sink.snapshots) != 0 || len(sink.transcripts) != 0 {
		t.Fatal("expected no sink deliveries from disabled controller")
	}
}

func TestTranscriptUpdatesSurfaceInterim(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.Start()
	c.HandleFragment("hello wor", false)
	c.HandleFragment("hello world", true)
	c.Stop()

	if len(sink.transcripts) != 2 {
		t.Fatalf("expected 2 transcript updates, got %d", len(sink.transcripts))
	}
	if sink.transcripts[0] != "" || sink.interims[0] != "hello wor" {
		t.Fatalf("unexpected interim update: %q / %q", sink.transcripts[0], sink.interims[0])
	}
	if sink.transcripts[1] != "hello world" || sink.interims[1] != "" {
		t.Fatalf("unexpected final update: %q / %q", sink.transcripts[1], sink.interims[1])
	}
}

func TestFragmentWhileIdleDropped(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.HandleFragment("stray words", true)

	if len(sink.transcripts) != 0 {
		t.Fatal("expected idle fragment to be dropped")
	}
	if got := c.Transcript(); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestUnexpectedStreamEndRestartsAndPreservesCounters(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.Start()
	c.HandleFragment("before the drop", true)
	c.HandleStreamEnded()

	_, _, restarts := src.Calls()
	if restarts != 1 {
		t.Fatalf("expected one restart, got %d", restarts)
	}
	if !c.Listening() {
		t.Fatal("expected session to keep recording across restart")
	}
	if got := c.Transcript(); got != "before the drop" {
		t.Fatalf("expected counters preserved, got transcript %q", got)
	}
	if len(sink.finalSnapshots()) != 0 {
		t.Fatal("expected no final snapshot on restart")
	}

	c.HandleFragment("after the drop", true)
	if got := c.Transcript(); got != "before the drop after the drop" {
		t.Fatalf("unexpected transcript after restart: %q", got)
	}
	c.Stop()
}

func TestStreamEndedWhileIdleFinalizesOnce(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.Start()
	c.HandleFragment("some words", true)

	// Simulate the capture side winding down before the end signal lands.
	c.mu.Lock()
	c.recording = false
	c.mu.Unlock()

	c.HandleStreamEnded()
	c.HandleStreamEnded()

	if got := len(sink.finalSnapshots()); got != 1 {
		t.Fatalf("expected exactly one final snapshot, got %d", got)
	}
}

func TestStreamEndedAfterStopDoesNotFinalizeAgain(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.Start()
	c.HandleFragment("some words", true)
	c.Stop()
	c.HandleStreamEnded()

	if got := len(sink.finalSnapshots()); got != 1 {
		t.Fatalf("expected exactly one final snapshot, got %d", got)
	}
}

func TestStreamErrorActsAsStop(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.Start()
	c.HandleFragment("oops words", true)
	c.HandleStreamError("no-speech")

	if c.Listening() {
		t.Fatal("expected idle state after stream error")
	}
	if got := len(sink.finalSnapshots()); got != 1 {
		t.Fatalf("expected one final snapshot after error, got %d", got)
	}
	_, _, restarts := src.Calls()
	if restarts != 0 {
		t.Fatal("expected no restart after stream error")
	}
}

func TestCaptureStartFailureIsSwallowed(t *testing.T) {
	src := source.NewMock()
	src.StartErr = context.DeadlineExceeded
	c, _, _ := newTestController(src)

	c.Start()
	if !c.Listening() {
		t.Fatal("expected session recording despite capture start failure")
	}
	c.Stop()
}

func TestStopTwiceCancelsTickerOnce(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.Start()
	c.HandleFragment("words", true)
	c.Stop()
	// A second stop must not double-cancel the task or re-finalize.
	c.Stop()

	if got := len(sink.finalSnapshots()); got != 1 {
		t.Fatalf("expected one final snapshot, got %d", got)
	}
}

func TestZeroDurationStopStillDeliversFinalSnapshot(t *testing.T) {
	src := source.NewMock()
	c, sink, _ := newTestController(src)

	c.Start()
	c.Stop()

	finals := sink.finalSnapshots()
	if len(finals) != 1 {
		t.Fatalf("expected final snapshot for zero-duration session, got %d", len(finals))
	}
	if finals[0].SpeakingPace != 0 {
		t.Fatalf("expected pace 0, got %d", finals[0].SpeakingPace)
	}
}

func TestTickSnapshotReflectsProcessedFragments(t *testing.T) {
	src := source.NewMock()
	c, sink, now := newTestController(src)

	c.Start()
	c.HandleFragment("one two three four", true)
	*now = now.Add(time.Minute)
	c.emitSnapshot(false)

	if len(sink.snapshots) != 1 {
		t.Fatalf("expected one live snapshot, got %d", len(sink.snapshots))
	}
	snap := sink.snapshots[0]
	if snap.Final {
		t.Fatal("expected live snapshot")
	}
	if snap.SpeakingPace != 4 {
		t.Fatalf("expected pace 4 wpm, got %d", snap.SpeakingPace)
	}
	c.Stop()
}
