package uq

import (
	"strings"
)

// synonymTable is a small deterministic substitution table used by the
// surrogate paraphraser when no generative model is configured.
var synonymTable = map[string][]string{
	"is":       {"is", "remains", "stands as"},
	"are":      {"are", "remain"},
	"shows":    {"shows", "indicates", "demonstrates"},
	"big":      {"big", "large"},
	"small":    {"small", "minor"},
	"increase": {"increase", "rise", "growth"},
	"decrease": {"decrease", "decline", "drop"},
	"because":  {"because", "since"},
	"however":  {"however", "but"},
	"result":   {"result", "outcome"},
}

// Paraphrase produces n deterministic surrogate paraphrases of text: the
// first is the text unchanged, subsequent ones apply a cyclic word-order
// rotation of a trailing clause plus table-driven synonym substitution.
// This is the documented fallback for when no generative model backend is
// available (spec's DESIGN NOTES baseline for SNNE sampling).
func Paraphrase(text string, n int) []string {
	if n < 1 {
		n = 1
	}
	words := strings.Fields(text)
	out := make([]string, 0, n)
	out = append(out, text)
	for k := 1; k < n; k++ {
		out = append(out, surrogate(words, k))
	}
	return out
}

func surrogate(words []string, seed int) string {
	if len(words) == 0 {
		return ""
	}
	substituted := make([]string, len(words))
	for i, w := range words {
		substituted[i] = substitute(w, seed)
	}
	return strings.Join(rotateTail(substituted, seed), " ")
}

// substitute swaps w for a seed-indexed synonym if one is registered,
// preserving a trailing punctuation mark.
func substitute(w string, seed int) string {
	trail := ""
	bare := w
	if len(bare) > 0 {
		last := bare[len(bare)-1]
		if last == '.' || last == ',' || last == '?' || last == '!' {
			trail = string(last)
			bare = bare[:len(bare)-1]
		}
	}
	lower := strings.ToLower(bare)
	if syns, ok := synonymTable[lower]; ok {
		choice := syns[seed%len(syns)]
		if bare == strings.Title(lower) {
			choice = strings.ToUpper(choice[:1]) + choice[1:]
		}
		return choice + trail
	}
	return w
}

// rotateTail rotates the final clause (last third of the words) by seed
// positions, simulating a word-order permutation without changing meaning
// for short factual sentences.
func rotateTail(words []string, seed int) []string {
	if len(words) < 4 {
		return words
	}
	tailStart := (len(words) * 2) / 3
	head := words[:tailStart]
	tail := words[tailStart:]
	shift := seed % len(tail)
	rotated := append(append([]string{}, tail[shift:]...), tail[:shift]...)
	return append(append([]string{}, head...), rotated...)
}
