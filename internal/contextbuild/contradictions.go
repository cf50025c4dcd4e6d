package contextbuild

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"veilleur/internal/core"
	"veilleur/internal/vectorstore"
)

// MaxContradictions caps the contradictions reported per cluster.
const MaxContradictions = 3

var negationPattern = regexp.MustCompile(`(?i)\b(ne|n'|pas|non|jamais|aucun|aucune|sans|not|no|never|none|denies|dément|nie)\b`)

var integerPattern = regexp.MustCompile(`\b\d+\b`)

// DetectContradictions compares article pairs that talk about the same thing
// (cosine similarity at or above floor) and flags factual or temporal
// disagreements. At most MaxContradictions are reported.
func DetectContradictions(articles []core.Article, floor float64) []core.Contradiction {
	if floor <= 0 || floor > 1 {
		floor = 0.75
	}

	var out []core.Contradiction
	for i := 0; i < len(articles) && len(out) < MaxContradictions; i++ {
		for j := i + 1; j < len(articles) && len(out) < MaxContradictions; j++ {
			a, b := articles[i], articles[j]
			if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
				continue
			}
			if vectorstore.CosineSimilarity(a.Embedding, b.Embedding) < floor {
				continue
			}
			if c := comparePair(a, b); c != nil {
				out = append(out, *c)
			}
		}
	}
	return out
}

// comparePair runs the three checks in order: negation asymmetry, diverging
// integer sets, diverging dates.
func comparePair(a, b core.Article) *core.Contradiction {
	textA := a.Title + " " + a.Body
	textB := b.Title + " " + b.Body

	negA := len(negationPattern.FindAllString(textA, -1))
	negB := len(negationPattern.FindAllString(textB, -1))
	if diff := negA - negB; diff >= 3 || diff <= -3 {
		return &core.Contradiction{
			Kind:     "factual",
			URLTheir: a.URL,
			URLOther: b.URL,
			Detail:   fmt.Sprintf("negation asymmetry (%d vs %d)", negA, negB),
		}
	}

	intsA := integerSet(textA)
	intsB := integerSet(textB)
	if len(intsA) >= 3 && len(intsB) >= 3 && integerOverlap(intsA, intsB) < 0.3 {
		return &core.Contradiction{
			Kind:     "factual",
			URLTheir: a.URL,
			URLOther: b.URL,
			Detail:   "figures disagree between sources",
		}
	}

	datesA := datePattern.FindAllString(textA, -1)
	datesB := datePattern.FindAllString(textB, -1)
	if len(datesA) > 0 && len(datesB) > 0 && !sharesDate(datesA, datesB) {
		return &core.Contradiction{
			Kind:     "temporal",
			URLTheir: a.URL,
			URLOther: b.URL,
			Detail:   fmt.Sprintf("dates disagree (%s vs %s)", datesA[0], datesB[0]),
		}
	}
	return nil
}

func integerSet(text string) map[int]bool {
	set := make(map[int]bool)
	for _, raw := range integerPattern.FindAllString(text, -1) {
		if n, err := strconv.Atoi(raw); err == nil && n > 1 {
			// Small counts (years of age aside) are too common to signify.
			set[n] = true
		}
	}
	return set
}

func integerOverlap(a, b map[int]bool) float64 {
	inter := 0
	for n := range a {
		if b[n] {
			inter++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	if smaller == 0 {
		return 1
	}
	return float64(inter) / float64(smaller)
}

func sharesDate(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, d := range a {
		set[strings.ToLower(d)] = true
	}
	for _, d := range b {
		if set[strings.ToLower(d)] {
			return true
		}
	}
	return false
}
