package analyzer

import "regexp"

// fillerPhrases are the hesitation markers counted in final fragments.
// Multi-word phrases are matched as a whole against the raw fragment text.
var fillerPhrases = []string{
	"um",
	"uh",
	"like",
	"you know",
	"so",
	"actually",
	"basically",
	"literally",
	"kind of",
}

var fillerPatterns = compileFillerPatterns()

func compileFillerPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(fillerPhrases))
	for _, phrase := range fillerPhrases {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(phrase)+`\b`))
	}
	return patterns
}

// countFillers scans raw fragment text and sums non-overlapping matches per
// phrase. Phrases are counted independently, so overlapping phrases can each
// contribute a match.
func countFillers(text string) int {
	total := 0
	for _, pattern := range fillerPatterns {
		total += len(pattern.FindAllStringIndex(text, -1))
	}
	return total
}

// toneCategory identifies which sentiment bucket a token falls into.
type toneCategory int

const (
	toneNone toneCategory = iota
	tonePositive
	toneNegative
	toneNeutral
)

var positiveWords = wordSet(
	"great", "wonderful", "good", "excellent", "amazing", "happy",
	"love", "awesome", "fantastic", "perfect", "excited", "best",
)

var negativeWords = wordSet(
	"bad", "terrible", "awful", "hate", "horrible", "worst",
	"sad", "angry", "wrong", "problem", "fail", "poor",
)

var neutralWords = wordSet(
	"okay", "fine", "normal", "average", "regular",
	"standard", "typical", "usual", "fair", "moderate",
)

// classifyTone performs an exact-match lookup, first matching category wins.
func classifyTone(word string) toneCategory {
	if _, ok := positiveWords[word]; ok {
		return tonePositive
	}
	if _, ok := negativeWords[word]; ok {
		return toneNegative
	}
	if _, ok := neutralWords[word]; ok {
		return toneNeutral
	}
	return toneNone
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
