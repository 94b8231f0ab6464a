package analyzer

import "testing"

func TestCountFillersRepeatedPhrase(t *testing.T) {
	if got := countFillers("so so so"); got != 3 {
		t.Fatalf("expected 3 matches, got %d", got)
	}
}

func TestCountFillersWordBoundaries(t *testing.T) {
	// "umbrella" and "sock" must not match "um" or "so".
	if got := countFillers("my umbrella is in a sock"); got != 0 {
		t.Fatalf("expected 0 matches, got %d", got)
	}
}

func TestCountFillersPhrasesCountIndependently(t *testing.T) {
	// Each phrase pattern scans the text on its own, so "like" and
	// "you know" both match here.
	if got := countFillers("it was like, you know, fast"); got != 2 {
		t.Fatalf("expected 2 matches, got %d", got)
	}
}

func TestClassifyToneFirstMatchWins(t *testing.T) {
	cases := []struct {
		word string
		want toneCategory
	}{
		{"great", tonePositive},
		{"terrible", toneNegative},
		{"fine", toneNeutral},
		{"table", toneNone},
	}
	for _, tc := range cases {
		if got := classifyTone(tc.word); got != tc.want {
			t.Fatalf("classifyTone(%q) = %d, want %d", tc.word, got, tc.want)
		}
	}
}
