package overflow

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// compressTranscript performs extractive compression: split into sentences,
// score, and keep the best until the target length is reached, preserving
// original order. Verbose reasoning loses; statements of fact and early
// context win.
func compressTranscript(text string, targetLen int) string {
	if len(text) <= targetLen {
		return text
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return truncate(text, targetLen)
	}

	scores := scoreSentences(sentences)

	type ranked struct {
		index int
		score float64
	}
	order := make([]ranked, len(sentences))
	for i, s := range scores {
		order[i] = ranked{index: i, score: s}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].score > order[j].score })

	keep := make(map[int]bool)
	length := 0
	for _, r := range order {
		s := sentences[r.index]
		if length+len(s)+1 > targetLen {
			continue
		}
		keep[r.index] = true
		length += len(s) + 1
	}
	if len(keep) == 0 {
		// Target too small for any full sentence; keep a truncated best one.
		return truncate(sentences[order[0].index], targetLen)
	}

	var out []string
	for i, s := range sentences {
		if keep[i] {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	return s[:n]
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			s := strings.TrimSpace(current.String())
			if len(s) > 8 {
				sentences = append(sentences, s)
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// scoreSentences weighs position (earlier context anchors the summary),
// moderate length, and rarity of words across the transcript.
func scoreSentences(sentences []string) []float64 {
	freq := wordFrequency(sentences)
	scores := make([]float64, len(sentences))

	for i, sentence := range sentences {
		words := strings.Fields(sentence)

		position := 1.0 / (1.0 + float64(i)*0.1)

		length := math.Min(float64(len(words))/15.0, 1.0)
		if len(words) > 30 {
			length = math.Max(1.0-(float64(len(words))-30.0)/60.0, 0.1)
		}

		rarity := 0.0
		for _, w := range words {
			w = normalizeWord(w)
			if n, ok := freq[w]; ok && n > 1 {
				rarity += 1.0 / float64(n)
			}
		}
		if len(words) > 0 {
			rarity /= float64(len(words))
		}

		scores[i] = 0.35*position + 0.35*length + 0.3*rarity
	}
	return scores
}

func wordFrequency(sentences []string) map[string]int {
	freq := make(map[string]int)
	for _, sentence := range sentences {
		for _, w := range strings.Fields(sentence) {
			w = normalizeWord(w)
			if len(w) > 2 {
				freq[w]++
			}
		}
	}
	return freq
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}
