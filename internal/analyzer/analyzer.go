package analyzer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// nonWordChars strips everything that is not a Unicode word character when
// normalizing tokens.
var nonWordChars = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Tone is the sentiment share per category, each formatted with two decimal
// places. Shares sum to 1.00 (modulo rounding); with no sentiment-bearing
// words seen the session defaults to fully neutral.
type Tone struct {
	Positive string
	Negative string
	Neutral  string
}

// Snapshot is a point-in-time analytics report derived from session state.
type Snapshot struct {
	SpeakingPace        int
	FillerWordCount     int
	VocabularyDiversity string
	EmotionalTone       Tone
	DurationSeconds     int
	Final               bool
}

// TranscriptAnalyzer accumulates transcript fragments for a single session
// and derives running analytics from them.
//
// Not safe for concurrent use; callers serialize access.
type TranscriptAnalyzer struct {
	clock func() time.Time

	transcript  string
	interim     string
	wordCount   int
	uniqueWords map[string]struct{}
	fillerWords int
	positive    int
	negative    int
	neutral     int
	startTime   time.Time
}

// New creates an analyzer with the given clock; a nil clock uses time.Now.
func New(clock func() time.Time) *TranscriptAnalyzer {
	if clock == nil {
		clock = time.Now
	}
	return &TranscriptAnalyzer{
		clock:       clock,
		uniqueWords: make(map[string]struct{}),
	}
}

// Begin resets all session state and stamps the session start time. No state
// survives from a previous session.
func (a *TranscriptAnalyzer) Begin() {
	a.transcript = ""
	a.interim = ""
	a.wordCount = 0
	a.uniqueWords = make(map[string]struct{})
	a.fillerWords = 0
	a.positive = 0
	a.negative = 0
	a.neutral = 0
	a.startTime = a.clock()
}

// Active reports whether a session has been started and not yet finalized.
func (a *TranscriptAnalyzer) Active() bool {
	return !a.startTime.IsZero()
}

// ProcessFragment folds one recognized fragment into the session counters.
//
// Tokens from both final and interim fragments feed the unique-word set and
// the sentiment counters. Only final fragments advance the word count, the
// filler count, and the stored transcript; interim text is kept aside as the
// transient "currently being recognized" value.
func (a *TranscriptAnalyzer) ProcessFragment(text string, interim bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	rawTokens := strings.Fields(trimmed)
	for _, token := range rawTokens {
		clean := nonWordChars.ReplaceAllString(strings.ToLower(token), "")
		if clean == "" {
			continue
		}
		a.uniqueWords[clean] = struct{}{}
		switch classifyTone(clean) {
		case tonePositive:
			a.positive++
		case toneNegative:
			a.negative++
		case toneNeutral:
			a.neutral++
		}
	}

	if interim {
		a.interim = trimmed
		return
	}

	a.wordCount += len(rawTokens)
	// Filler phrases are matched against the raw fragment text, not the
	// cleaned tokens, so multi-word phrases and punctuation-adjacent
	// occurrences still count.
	a.fillerWords += countFillers(text)
	a.transcript = strings.TrimSpace(a.transcript + " " + trimmed)
	a.interim = ""
}

// Transcript returns the accumulated text of all final fragments.
func (a *TranscriptAnalyzer) Transcript() string {
	return a.transcript
}

// Interim returns the most recent interim fragment, or "" once a final
// fragment has superseded it.
func (a *TranscriptAnalyzer) Interim() string {
	return a.interim
}

// Snapshot computes an analytics report from the current session state. It
// returns nil when no session has been started; that is the defined idle
// state, not an error. Given identical state and clock reading the result is
// always identical.
func (a *TranscriptAnalyzer) Snapshot(final bool) *Snapshot {
	if a.startTime.IsZero() {
		return nil
	}

	durationMinutes := a.clock().Sub(a.startTime).Minutes()

	pace := 0
	if durationMinutes > 0 {
		pace = int(math.Round(float64(a.wordCount) / durationMinutes))
	}

	diversity := 0.0
	if a.wordCount > 0 {
		diversity = float64(len(a.uniqueWords)) / float64(a.wordCount)
	}

	tone := Tone{Positive: "0.00", Negative: "0.00", Neutral: "1.00"}
	if total := a.positive + a.negative + a.neutral; total > 0 {
		tone = Tone{
			Positive: format2(float64(a.positive) / float64(total)),
			Negative: format2(float64(a.negative) / float64(total)),
			Neutral:  format2(float64(a.neutral) / float64(total)),
		}
	}

	return &Snapshot{
		SpeakingPace:        pace,
		FillerWordCount:     a.fillerWords,
		VocabularyDiversity: format2(diversity),
		EmotionalTone:       tone,
		DurationSeconds:     int(math.Round(durationMinutes * 60)),
		Final:               final,
	}
}

// End computes the terminating snapshot for the session and clears the start
// time, so a second finalize attempt yields nil. Returns nil when no session
// was active.
func (a *TranscriptAnalyzer) End() *Snapshot {
	snapshot := a.Snapshot(true)
	a.startTime = time.Time{}
	return snapshot
}

func format2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
