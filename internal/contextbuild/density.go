package contextbuild

import (
	"regexp"
	"strings"
)

// Verifiable-marker patterns. Dates cover numeric and French/English textual
// forms; large numbers require a magnitude word or unit to count as a fact.
var (
	datePattern = regexp.MustCompile(`(?i)\b(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{4}-\d{2}-\d{2}|\d{1,2}(er)?\s+(janvier|février|mars|avril|mai|juin|juillet|août|septembre|octobre|novembre|décembre|january|february|march|april|may|june|july|august|september|october|november|december)(\s+\d{4})?)\b`)

	percentPattern = regexp.MustCompile(`\b\d+([.,]\d+)?\s*%`)

	largeNumberPattern = regexp.MustCompile(`(?i)\b\d+([.,]\d+)?\s*(millions?|milliards?|billions?|millions?|thousand|k€|m€|euros?|dollars?|habitants?|personnes?|emplois?|tonnes?|km²?|mètres?)\b`)

	attributionPattern = regexp.MustCompile(`(?i)"[^"]{10,}"|«[^»]{10,}»|\b(selon|d'après|a déclaré|a affirmé|a annoncé|according to|said|stated|announced)\b`)

	bareNumberPattern = regexp.MustCompile(`\b\d+([.,]\d+)?\b`)

	guillemetPattern = regexp.MustCompile(`«[^»]+»`)
)

// Epistemic hedges per language. The generic list applies regardless.
var hedgeWords = map[string][]string{
	"fr": {"probablement", "peut-être", "pourrait", "semblerait", "semble", "vraisemblablement", "sans doute", "il se pourrait", "possiblement", "éventuellement", "supposément"},
	"en": {"probably", "perhaps", "might", "maybe", "seems", "appears", "possibly", "allegedly", "reportedly", "presumably", "likely"},
}

// FactDensity scores how verifiable a chunk reads: counts of dates,
// percentages, quantified magnitudes and quoted attributions against
// epistemic hedges, clamped to [0, 1].
func FactDensity(text, language string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	lower := strings.ToLower(text)

	facts := float64(len(datePattern.FindAllString(text, -1))) +
		float64(len(percentPattern.FindAllString(text, -1))) +
		float64(len(largeNumberPattern.FindAllString(text, -1))) +
		float64(len(attributionPattern.FindAllString(text, -1))) +
		0.5*float64(len(bareNumberPattern.FindAllString(text, -1))) +
		2*float64(len(guillemetPattern.FindAllString(text, -1)))

	var hedges float64
	lists := [][]string{hedgeWords["fr"], hedgeWords["en"]}
	if language == "fr" || language == "en" {
		lists = [][]string{hedgeWords[language]}
	}
	for _, list := range lists {
		for _, hedge := range list {
			hedges += float64(strings.Count(lower, hedge))
		}
	}

	density := facts / (facts + hedges + 1)
	if density < 0 {
		return 0
	}
	if density > 1 {
		return 1
	}
	return density
}
