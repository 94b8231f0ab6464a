package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/speechlens/speechlens/internal/analyzer"
	"github.com/speechlens/speechlens/internal/bus"
	"github.com/speechlens/speechlens/internal/config"
	"github.com/speechlens/speechlens/internal/history"
	"github.com/speechlens/speechlens/internal/protocol"
	"github.com/speechlens/speechlens/internal/session"
	"github.com/speechlens/speechlens/internal/source"
)

// Service connects the session controller to the bus: fragments and stream
// signals come in, transcript updates and analytics snapshots go out.
type Service struct {
	cfg     config.AnalyticsConfig
	bus     *bus.Client
	history *history.Store
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	subs    []*nats.Subscription
	ctrl    *session.Controller
	ready   bool

	fragmentCounter metric.Int64Counter
	snapshotCounter metric.Int64Counter
}

func NewService(parent context.Context, cfg config.AnalyticsConfig, busClient *bus.Client, historyStore *history.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:     cfg,
		bus:     busClient,
		history: historyStore,
		log:     logger.With(slog.String("component", "analytics")),
		ctx:     ctx,
		cancel:  cancel,
	}

	src := newSource(cfg, busClient)
	interval := time.Duration(cfg.SnapshotIntervalMS) * time.Millisecond
	s.ctrl = session.New(ctx, src, s, interval, nil, logger)

	s.initMetrics()

	return s
}

// newSource selects the capture collaborator; nil means no capture
// capability exists and the controller runs permanently disabled.
func newSource(cfg config.AnalyticsConfig, busClient *bus.Client) source.Source {
	switch cfg.SourceMode {
	case "bus":
		return source.NewBusSource(busClient, cfg.SessionID, cfg.Language)
	case "mock":
		return source.NewMock()
	default:
		return nil
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()

	type subscription struct {
		subject string
		handler nats.MsgHandler
	}
	for _, sc := range []subscription{
		{protocol.SubjectFragmentPrefix + ".>", s.handleFragment},
		{protocol.SubjectStreamEnded, s.handleStreamEnded},
		{protocol.SubjectStreamError, s.handleStreamError},
		{protocol.SubjectControlStart, s.handleControlStart},
		{protocol.SubjectControlStop, s.handleControlStop},
	} {
		sub, err := conn.Subscribe(sc.subject, sc.handler)
		if err != nil {
			s.drainSubs()
			return fmt.Errorf("subscribe %s: %w", sc.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.ctrl.Stop()
	s.drainSubs()
	s.cancel()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// Transcript returns the accumulated final transcript of the active session.
func (s *Service) Transcript() string {
	return s.ctrl.Transcript()
}

// Listening reports whether a session is currently recording.
func (s *Service) Listening() bool {
	return s.ctrl.Listening()
}

func (s *Service) drainSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) handleFragment(msg *nats.Msg) {
	var frag protocol.Fragment
	if err := json.Unmarshal(msg.Data, &frag); err != nil {
		s.log.Warn("failed to decode fragment", slogError(err))
		return
	}
	if frag.SessionID != s.cfg.SessionID {
		s.log.Debug("dropping fragment for unknown session",
			slog.String("session_id", frag.SessionID))
		return
	}
	s.ctrl.HandleFragment(frag.Text, frag.Final)
	if s.fragmentCounter != nil {
		s.fragmentCounter.Add(s.ctx, 1)
	}
}

func (s *Service) handleStreamEnded(msg *nats.Msg) {
	var sig protocol.StreamSignal
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &sig); err != nil {
			s.log.Warn("failed to decode stream-ended signal", slogError(err))
			return
		}
	}
	s.ctrl.HandleStreamEnded()
}

func (s *Service) handleStreamError(msg *nats.Msg) {
	var sig protocol.StreamSignal
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &sig); err != nil {
			s.log.Warn("failed to decode stream-error signal", slogError(err))
			return
		}
	}
	s.ctrl.HandleStreamError(sig.Reason)
}

func (s *Service) handleControlStart(msg *nats.Msg) {
	var cmd protocol.ControlCommand
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			s.log.Warn("failed to decode start command", slogError(err))
			return
		}
	}
	if cmd.SessionID != "" && cmd.SessionID != s.cfg.SessionID {
		s.log.Warn("ignoring start for unknown session", slog.String("session_id", cmd.SessionID))
		return
	}
	if !s.ctrl.Enabled() {
		return
	}
	if err := s.history.AppendSession(s.ctx, s.cfg.SessionID); err != nil {
		s.log.Warn("failed to record session start", slogError(err))
	}
	s.ctrl.Start()
}

func (s *Service) handleControlStop(msg *nats.Msg) {
	var cmd protocol.ControlCommand
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			s.log.Warn("failed to decode stop command", slogError(err))
			return
		}
	}
	if cmd.SessionID != "" && cmd.SessionID != s.cfg.SessionID {
		s.log.Warn("ignoring stop for unknown session", slog.String("session_id", cmd.SessionID))
		return
	}
	s.ctrl.Stop()
}

// OnTranscriptUpdate implements session.Sink by broadcasting the accumulated
// transcript together with the in-flight interim text.
func (s *Service) OnTranscriptUpdate(finalText, interim string) {
	update := protocol.TranscriptUpdate{
		SessionID: s.cfg.SessionID,
		FinalText: finalText,
		Interim:   interim,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(update)
	if err != nil {
		s.log.Warn("failed to marshal transcript update", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscriptUpdate, data); err != nil {
		s.log.Warn("failed to publish transcript update", slogError(err))
	}
}

// OnAnalyticsUpdate implements session.Sink by broadcasting the snapshot and,
// for final snapshots, appending it to the history store.
func (s *Service) OnAnalyticsUpdate(snapshot analyzer.Snapshot, final bool) {
	report := reportFromSnapshot(s.cfg.SessionID, snapshot)
	subject := protocol.SubjectAnalyticsLive
	if final {
		subject = protocol.SubjectAnalyticsFinal
	}
	data, err := json.Marshal(report)
	if err != nil {
		s.log.Warn("failed to marshal analytics report", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish analytics report", slogError(err))
	}
	if s.snapshotCounter != nil {
		s.snapshotCounter.Add(s.ctx, 1)
	}

	if final {
		if err := s.history.AppendSnapshot(s.ctx, recordFromReport(report)); err != nil {
			s.log.Warn("failed to persist final snapshot", slogError(err))
		}
	}
}

func reportFromSnapshot(sessionID string, snapshot analyzer.Snapshot) protocol.AnalyticsReport {
	return protocol.AnalyticsReport{
		SessionID:           sessionID,
		SpeakingPace:        snapshot.SpeakingPace,
		FillerWordCount:     snapshot.FillerWordCount,
		VocabularyDiversity: snapshot.VocabularyDiversity,
		EmotionalTone: protocol.EmotionalTone{
			Positive: snapshot.EmotionalTone.Positive,
			Negative: snapshot.EmotionalTone.Negative,
			Neutral:  snapshot.EmotionalTone.Neutral,
		},
		DurationSeconds: snapshot.DurationSeconds,
		Final:           snapshot.Final,
		Timestamp:       time.Now().UTC(),
	}
}

func recordFromReport(report protocol.AnalyticsReport) history.Record {
	return history.Record{
		SessionID:           report.SessionID,
		Final:               report.Final,
		SpeakingPace:        report.SpeakingPace,
		FillerWordCount:     report.FillerWordCount,
		VocabularyDiversity: report.VocabularyDiversity,
		TonePositive:        report.EmotionalTone.Positive,
		ToneNegative:        report.EmotionalTone.Negative,
		ToneNeutral:         report.EmotionalTone.Neutral,
		DurationSeconds:     report.DurationSeconds,
		CreatedAt:           report.Timestamp,
	}
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/speechlens/speechlens/runtime")
	var err error
	s.fragmentCounter, err = meter.Int64Counter("speechlens.analytics.fragments",
		metric.WithDescription("Transcript fragments processed"))
	if err != nil {
		s.log.Warn("failed to create fragment counter", slogError(err))
	}
	s.snapshotCounter, err = meter.Int64Counter("speechlens.analytics.snapshots",
		metric.WithDescription("Analytics snapshots emitted"))
	if err != nil {
		s.log.Warn("failed to create snapshot counter", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
