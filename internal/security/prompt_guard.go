package security

import (
	"regexp"
	"strings"
)

// PromptInjectionFinding is a single suspicious match inside tool output.
type PromptInjectionFinding struct {
	Pattern string
	Start   int
	End     int
	Excerpt string
}

var keywordSnippets = []string{
	"ignore previous instruction",
	"ignore previous instructions",
	"ignore previous command",
	"ignore previous commands",
	"ignore all instruction",
	"ignore all instructions",
	"ignore all previous instruction",
	"ignore all previous instructions",
	"forget previous instruction",
	"forget previous instructions",
	"bypass safety",
	"system prompt",
	"override instruction",
	"override instructions",
	"delete all instructions",
	"run shell",
}

var injectionPatterns = compilePatterns(
	`ignore\s+(?:all|any|previous|prior|earlier)\s+(?:instruction|instructions?)`,
	`ignore\s+(?:all|any|previous|prior|earlier)\s+(?:command|commands?)`,
	`forget\s+(?:all|any|previous|prior|earlier)\s+instructions?`,
	`system\s+prompt`,
	`(?:override|bypass).{0,15}instruction`,
	`(?:begin|end)\s+prompt`,
	`run\s+shell`,
	`sudo\s`,
	`rm\s+-rf`,
)

func compilePatterns(pats ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(pats))
	for i, p := range pats {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func buildExcerpt(text string, start, end, radius int) string {
	left := start - radius
	if left < 0 {
		left = 0
	}
	right := end + radius
	if right > len(text) {
		right = len(text)
	}
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(text[left:right]), " ")
}

// DetectPromptInjection scans text for suspicious embedded instructions.
func DetectPromptInjection(text string) []PromptInjectionFinding {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	var findings []PromptInjectionFinding
	for _, kw := range keywordSnippets {
		if idx := strings.Index(lowered, kw); idx >= 0 {
			end := idx + len(kw)
			findings = append(findings, PromptInjectionFinding{
				Pattern: kw, Start: idx, End: end,
				Excerpt: buildExcerpt(text, idx, end, 40),
			})
		}
	}
	for _, pat := range injectionPatterns {
		if loc := pat.FindStringIndex(text); loc != nil {
			findings = append(findings, PromptInjectionFinding{
				Pattern: pat.String(), Start: loc[0], End: loc[1],
				Excerpt: buildExcerpt(text, loc[0], loc[1], 40),
			})
		}
	}
	seen := make(map[[2]int]bool, len(findings))
	deduped := findings[:0]
	for _, f := range findings {
		span := [2]int{f.Start, f.End}
		if seen[span] {
			continue
		}
		seen[span] = true
		deduped = append(deduped, f)
	}
	return deduped
}

// SanitizeFragment collapses whitespace in a short fragment destined for a
// prompt, replacing it with "[filtered]" if it contains an injection
// attempt.
func SanitizeFragment(text string) string {
	fragment := strings.TrimSpace(text)
	if fragment == "" {
		return fragment
	}
	if len(DetectPromptInjection(fragment)) > 0 {
		return "[filtered]"
	}
	return whitespaceRE.ReplaceAllString(fragment, " ")
}
