package analyzer

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestAnalyzer() (*TranscriptAnalyzer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	a := New(clock.Now)
	a.Begin()
	return a, clock
}

func TestFinalFragmentCounters(t *testing.T) {
	a, clock := newTestAnalyzer()
	a.ProcessFragment("this is great and wonderful", false)
	clock.now = clock.now.Add(30 * time.Second)

	snap := a.Snapshot(false)
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if a.wordCount != 5 {
		t.Fatalf("expected word count 5, got %d", a.wordCount)
	}
	if a.positive != 2 {
		t.Fatalf("expected 2 positive words, got %d", a.positive)
	}
	if snap.VocabularyDiversity != "1.00" {
		t.Fatalf("expected diversity 1.00, got %s", snap.VocabularyDiversity)
	}
	if snap.SpeakingPace != 10 {
		t.Fatalf("expected pace 10 wpm over 30s, got %d", snap.SpeakingPace)
	}
	if snap.DurationSeconds != 30 {
		t.Fatalf("expected 30s duration, got %d", snap.DurationSeconds)
	}
	if snap.EmotionalTone.Positive != "1.00" || snap.EmotionalTone.Neutral != "0.00" {
		t.Fatalf("unexpected tone: %+v", snap.EmotionalTone)
	}
}

func TestFillerAndNeutralCounting(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("um, I think, uh, this is fine", false)

	if a.fillerWords != 2 {
		t.Fatalf("expected 2 filler matches (um, uh), got %d", a.fillerWords)
	}
	if a.neutral != 1 {
		t.Fatalf("expected 1 neutral word (fine), got %d", a.neutral)
	}
	if a.wordCount != 7 {
		t.Fatalf("expected raw word count 7, got %d", a.wordCount)
	}
}

func TestMultiWordFillerPhrase(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("you know it was kind of hard", false)

	// "you know" and "kind of" each match once.
	if a.fillerWords != 2 {
		t.Fatalf("expected 2 filler matches, got %d", a.fillerWords)
	}
}

func TestFillerMatchingIsCaseInsensitiveOnRawText(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("Um... UM! (uh)", false)

	if a.fillerWords != 3 {
		t.Fatalf("expected 3 filler matches, got %d", a.fillerWords)
	}
}

func TestSnapshotWithoutSessionReturnsNil(t *testing.T) {
	a := New(nil)
	if snap := a.Snapshot(true); snap != nil {
		t.Fatalf("expected nil snapshot before session start, got %+v", snap)
	}
	if snap := a.End(); snap != nil {
		t.Fatalf("expected nil final snapshot before session start, got %+v", snap)
	}
}

func TestInterimTokensPersistInUniqueWords(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("hello wor", true)
	a.ProcessFragment("hello world", false)

	if a.wordCount != 2 {
		t.Fatalf("expected word count 2 from final fragment only, got %d", a.wordCount)
	}
	for _, w := range []string{"hello", "wor", "world"} {
		if _, ok := a.uniqueWords[w]; !ok {
			t.Fatalf("expected unique word %q to be tracked", w)
		}
	}
	if len(a.uniqueWords) != 3 {
		t.Fatalf("expected 3 unique words, got %d", len(a.uniqueWords))
	}
}

func TestInterimFragmentDoesNotTouchTranscript(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("first part", false)
	a.ProcessFragment("second par", true)

	if got := a.Transcript(); got != "first part" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	if got := a.Interim(); got != "second par" {
		t.Fatalf("unexpected interim text: %q", got)
	}

	a.ProcessFragment("second part", false)
	if got := a.Transcript(); got != "first part second part" {
		t.Fatalf("unexpected transcript after final: %q", got)
	}
	if got := a.Interim(); got != "" {
		t.Fatalf("expected interim cleared after final fragment, got %q", got)
	}
}

func TestEmptyFragmentIsNoOp(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("", false)
	a.ProcessFragment("   \t  ", false)
	a.ProcessFragment("", true)

	if a.wordCount != 0 || len(a.uniqueWords) != 0 || a.Transcript() != "" {
		t.Fatalf("expected untouched state, got wordCount=%d unique=%d transcript=%q",
			a.wordCount, len(a.uniqueWords), a.Transcript())
	}
}

func TestPunctuationOnlyTokensDiscarded(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("well -- !!! done", false)

	// Raw token count includes the punctuation tokens, unique words do not.
	if a.wordCount != 4 {
		t.Fatalf("expected raw word count 4, got %d", a.wordCount)
	}
	if len(a.uniqueWords) != 2 {
		t.Fatalf("expected 2 unique words, got %d", len(a.uniqueWords))
	}
}

func TestZeroDurationSnapshot(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("hello world", false)

	snap := a.Snapshot(true)
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if snap.SpeakingPace != 0 {
		t.Fatalf("expected pace 0 for zero duration, got %d", snap.SpeakingPace)
	}
	if snap.DurationSeconds != 0 {
		t.Fatalf("expected 0s duration, got %d", snap.DurationSeconds)
	}
}

func TestNeutralToneByDefault(t *testing.T) {
	a, clock := newTestAnalyzer()
	a.ProcessFragment("the quick brown fox", false)
	clock.now = clock.now.Add(10 * time.Second)

	snap := a.Snapshot(false)
	tone := snap.EmotionalTone
	if tone.Positive != "0.00" || tone.Negative != "0.00" || tone.Neutral != "1.00" {
		t.Fatalf("expected neutral-by-default tone, got %+v", tone)
	}
}

func TestToneSharesSumToOne(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("great great bad fine", false)

	snap := a.Snapshot(false)
	tone := snap.EmotionalTone
	if tone.Positive != "0.50" || tone.Negative != "0.25" || tone.Neutral != "0.25" {
		t.Fatalf("unexpected tone shares: %+v", tone)
	}
}

func TestSnapshotIsIdempotent(t *testing.T) {
	a, clock := newTestAnalyzer()
	a.ProcessFragment("this is great, you know", false)
	clock.now = clock.now.Add(45 * time.Second)

	first := a.Snapshot(false)
	second := a.Snapshot(false)
	if first == nil || second == nil {
		t.Fatal("expected snapshots")
	}
	if *first != *second {
		t.Fatalf("snapshots differ: %+v vs %+v", first, second)
	}
}

func TestFinalFlagPassesThrough(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("hello", false)

	if snap := a.Snapshot(false); snap.Final {
		t.Fatal("expected live snapshot")
	}
	if snap := a.Snapshot(true); !snap.Final {
		t.Fatal("expected final snapshot")
	}
}

func TestEndFinalizesExactlyOnce(t *testing.T) {
	a, clock := newTestAnalyzer()
	a.ProcessFragment("hello world", false)
	clock.now = clock.now.Add(time.Minute)

	snap := a.End()
	if snap == nil || !snap.Final {
		t.Fatalf("expected final snapshot, got %+v", snap)
	}
	if again := a.End(); again != nil {
		t.Fatalf("expected second finalize to be a no-op, got %+v", again)
	}
	if a.Active() {
		t.Fatal("expected analyzer inactive after End")
	}
}

func TestBeginResetsAllState(t *testing.T) {
	a, clock := newTestAnalyzer()
	a.ProcessFragment("um this is great", false)
	a.ProcessFragment("more wor", true)

	clock.now = clock.now.Add(time.Minute)
	a.Begin()

	if a.wordCount != 0 || a.fillerWords != 0 || a.positive != 0 ||
		len(a.uniqueWords) != 0 || a.Transcript() != "" || a.Interim() != "" {
		t.Fatal("expected clean state after Begin")
	}
	if !a.startTime.Equal(clock.now) {
		t.Fatalf("expected start time restamped, got %v", a.startTime)
	}
}

func TestWordCountSumsRawTokenCounts(t *testing.T) {
	a, _ := newTestAnalyzer()
	fragments := []string{"one two three", "four", "five six"}
	for _, f := range fragments {
		a.ProcessFragment(f, false)
	}
	if a.wordCount != 6 {
		t.Fatalf("expected word count 6, got %d", a.wordCount)
	}
	if got := a.Transcript(); got != "one two three four five six" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestDiversityZeroWithoutFinalWords(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("interim only", true)

	snap := a.Snapshot(false)
	if snap.VocabularyDiversity != "0.00" {
		t.Fatalf("expected diversity 0.00 with zero word count, got %s", snap.VocabularyDiversity)
	}
}

func TestDiversityCanExceedOneWithInterimTokens(t *testing.T) {
	a, _ := newTestAnalyzer()
	a.ProcessFragment("alpha beta gamma", true)
	a.ProcessFragment("alpha", false)

	snap := a.Snapshot(false)
	if snap.VocabularyDiversity != "3.00" {
		t.Fatalf("expected diversity 3.00, got %s", snap.VocabularyDiversity)
	}
}
