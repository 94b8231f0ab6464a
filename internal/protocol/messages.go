package protocol

import "time"

// Fragment is one chunk of recognized speech streamed from a capture device.
// Final fragments are committed text; interim fragments are provisional and
// may be revised by a later fragment.
type Fragment struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamSignal reports a lifecycle event from the capture side: the
// recognition stream ended, or it failed with a reason.
type StreamSignal struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptUpdate carries the accumulated final transcript plus whatever
// text is currently being recognized.
type TranscriptUpdate struct {
	SessionID string    `json:"session_id"`
	FinalText string    `json:"final_text"`
	Interim   string    `json:"interim,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EmotionalTone is the sentiment share per category, each formatted with
// two decimal places.
type EmotionalTone struct {
	Positive string `json:"positive"`
	Negative string `json:"negative"`
	Neutral  string `json:"neutral"`
}

// AnalyticsReport is a point-in-time analytics snapshot broadcast on the bus.
type AnalyticsReport struct {
	SessionID           string        `json:"session_id"`
	SpeakingPace        int           `json:"speaking_pace"`
	FillerWordCount     int           `json:"filler_word_count"`
	VocabularyDiversity string        `json:"vocabulary_diversity"`
	EmotionalTone       EmotionalTone `json:"emotional_tone"`
	DurationSeconds     int           `json:"duration_seconds"`
	Final               bool          `json:"final"`
	Timestamp           time.Time     `json:"timestamp"`
}

// ControlCommand asks the analytics service to start or stop a session.
type ControlCommand struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptureCommand instructs capture devices to start, stop, or restart the
// underlying audio stream.
type CaptureCommand struct {
	SessionID string    `json:"session_id"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectFragmentPrefix = "speech.fragment"
	SubjectStreamEnded    = "speech.stream.ended"
	SubjectStreamError    = "speech.stream.error"

	SubjectCaptureStart   = "speech.capture.start"
	SubjectCaptureStop    = "speech.capture.stop"
	SubjectCaptureRestart = "speech.capture.restart"

	SubjectControlStart = "analytics.control.start"
	SubjectControlStop  = "analytics.control.stop"

	SubjectTranscriptUpdate = "analytics.transcript"
	SubjectAnalyticsLive    = "analytics.snapshot.live"
	SubjectAnalyticsFinal   = "analytics.snapshot.final"

	SubjectDeviceAnnounce        = "ctrl.device.announce"
	SubjectDeviceHeartbeatPrefix = "ctrl.device.heartbeat"
)
