package persona

import "strings"

// Sub-score weights of the conformity score.
const (
	weightTone       = 0.35
	weightStyle      = 0.25
	weightSignature  = 0.15
	weightVocabulary = 0.25
)

// DefaultQualityThreshold is the conformity floor below which the neutral
// version is kept instead of the variant.
const DefaultQualityThreshold = 0.6

// Scores breaks a conformity verdict into its components.
type Scores struct {
	Tone       float64
	Style      float64
	Signature  float64
	Vocabulary float64
	Total      float64
}

// Score measures how faithfully a text follows a persona: tone-word
// coverage, style-marker hits, signature presence and register vocabulary,
// with forbidden words eating into the vocabulary component.
func Score(text string, p Persona) Scores {
	lower := strings.ToLower(text)
	var s Scores

	if len(p.ToneWords) > 0 {
		hits := 0
		for _, w := range p.ToneWords {
			if strings.Contains(lower, strings.ToLower(w)) {
				hits++
			}
		}
		// Three distinct tone words already read as the full tone.
		s.Tone = clamp01(float64(hits) / 3)
	}

	if len(p.StyleMarkers) > 0 {
		hits := 0
		for _, re := range p.StyleMarkers {
			if re.MatchString(text) {
				hits++
			}
		}
		s.Style = float64(hits) / float64(len(p.StyleMarkers))
	}

	if p.Signature != "" && strings.Contains(text, p.Signature) {
		s.Signature = 1
	}

	if len(p.Vocabulary) > 0 {
		hits := 0
		for _, w := range p.Vocabulary {
			if strings.Contains(lower, strings.ToLower(w)) {
				hits++
			}
		}
		vocab := float64(hits) / float64(len(p.Vocabulary))
		for _, w := range p.Forbidden {
			if strings.Contains(lower, strings.ToLower(w)) {
				vocab -= 0.5
			}
		}
		s.Vocabulary = clamp01(vocab)
	}

	s.Total = weightTone*s.Tone + weightStyle*s.Style + weightSignature*s.Signature + weightVocabulary*s.Vocabulary
	return s
}

// Accept reports whether a variant passes: the total must reach the
// threshold, and a text with no signature and a weak tone is rejected
// outright.
func Accept(s Scores, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultQualityThreshold
	}
	if s.Signature == 0 && s.Tone < 0.4 {
		return false
	}
	return s.Total >= threshold
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
