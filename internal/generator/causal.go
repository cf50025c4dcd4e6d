package generator

import (
	"regexp"
	"strings"

	"veilleur/internal/core"
)

// MinCausalEdges is the floor below which the pattern extractor runs.
const MinCausalEdges = 3

var causalKinds = map[string]bool{
	"causes": true, "triggers": true, "enables": true, "prevents": true,
}

// validateEdge keeps an entry only when both sides are present and carry at
// least five characters; unknown relation types normalize to "causes".
func validateEdge(e causalEntry) (core.CausalEdge, bool) {
	cause := strings.TrimSpace(e.Cause)
	effect := strings.TrimSpace(e.Effect)
	if len([]rune(cause)) < 5 || len([]rune(effect)) < 5 {
		return core.CausalEdge{}, false
	}
	kind := strings.ToLower(strings.TrimSpace(e.Type))
	if !causalKinds[kind] {
		kind = "causes"
	}
	return core.CausalEdge{Cause: cause, Effect: effect, Kind: kind, Sources: e.Sources}, true
}

// causalPatterns are the French and English connective families the fallback
// extractor recognizes. Each pattern captures (cause, effect) around the
// connective.
var causalPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+(?:a|ont)\s+caus(?:é|ée|és|ées)\s+([^.!?;\n]{5,120})`), "causes"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+(?:a|ont)\s+entraîn(?:é|ée|és|ées)\s+([^.!?;\n]{5,120})`), "causes"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+(?:a|ont)\s+provoqu(?:é|ée|és|ées)\s+([^.!?;\n]{5,120})`), "causes"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+(?:a|ont)\s+déclench(?:é|ée|és|ées)\s+([^.!?;\n]{5,120})`), "triggers"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+(?:a|ont)\s+conduit\s+à\s+([^.!?;\n]{5,120})`), "causes"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+(?:a|ont)\s+permis\s+([^.!?;\n]{5,120})`), "enables"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+(?:a|ont)\s+empêch(?:é|ée|és|ées)\s+([^.!?;\n]{5,120})`), "prevents"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+en\s+raison\s+de\s+([^.!?;\n]{5,120})`), "causes"}, // effect first
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+led\s+to\s+([^.!?;\n]{5,120})`), "causes"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+resulted\s+in\s+([^.!?;\n]{5,120})`), "causes"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+caused\s+([^.!?;\n]{5,120})`), "causes"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+triggered\s+([^.!?;\n]{5,120})`), "triggers"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+enabled\s+([^.!?;\n]{5,120})`), "enables"},
	{regexp.MustCompile(`(?i)([^.!?;\n]{5,120}?)\s+prevented\s+([^.!?;\n]{5,120})`), "prevents"},
}

// reversedPatterns name the effect before the cause.
var reversedPatterns = map[string]bool{
	`(?i)([^.!?;\n]{5,120}?)\s+en\s+raison\s+de\s+([^.!?;\n]{5,120})`: true,
}

// ExtractCausalEdges mines cause/effect relations out of generated prose with
// the bilingual connective patterns. Deduplicated on (cause, effect).
func ExtractCausalEdges(text string) []core.CausalEdge {
	seen := make(map[string]bool)
	var out []core.CausalEdge
	for _, p := range causalPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			cause := strings.TrimSpace(m[1])
			effect := strings.TrimSpace(m[2])
			if reversedPatterns[p.re.String()] {
				cause, effect = effect, cause
			}
			if len([]rune(cause)) < 5 || len([]rune(effect)) < 5 {
				continue
			}
			key := strings.ToLower(cause) + "\x00" + strings.ToLower(effect)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, core.CausalEdge{Cause: cause, Effect: effect, Kind: p.kind})
		}
	}
	return out
}
