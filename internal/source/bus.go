package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/speechlens/speechlens/internal/bus"
	"github.com/speechlens/speechlens/internal/protocol"
)

// BusSource drives remote capture devices by publishing control commands on
// the bus. The devices stream fragments back on the speech.* subjects.
type BusSource struct {
	bus       *bus.Client
	sessionID string
	language  string
}

func NewBusSource(busClient *bus.Client, sessionID, language string) *BusSource {
	return &BusSource{
		bus:       busClient,
		sessionID: sessionID,
		language:  language,
	}
}

func (s *BusSource) Start(_ context.Context) error {
	return s.publish(protocol.SubjectCaptureStart)
}

func (s *BusSource) Stop() error {
	return s.publish(protocol.SubjectCaptureStop)
}

func (s *BusSource) Restart(_ context.Context) error {
	return s.publish(protocol.SubjectCaptureRestart)
}

func (s *BusSource) publish(subject string) error {
	cmd := protocol.CaptureCommand{
		SessionID: s.sessionID,
		Language:  s.language,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
