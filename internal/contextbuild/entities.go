package contextbuild

import (
	"regexp"
	"strings"

	"veilleur/internal/core"
)

// capitalizedRun matches consecutive capitalized words, accented initials
// included, with optional particles inside ("de", "du", "von").
var capitalizedRun = regexp.MustCompile(`\b[A-ZÀ-Þ][a-zà-ÿ'-]+(?:\s+(?:de|du|des|d'|van|von|le|la)\s+)?(?:\s?[A-ZÀ-Þ][a-zà-ÿ'-]+)*`)

var organizationKeyword = regexp.MustCompile(`\b([A-ZÀ-Þ][\wà-ÿ'-]*(?:\s+[A-ZÀ-Þ][\wà-ÿ'-]*)*)\s+(SA|SAS|Inc|Corp|Group|Groupe|Ltd|GmbH|Association|Fédération|Ministère|Assemblée|Commission|Banque|Université)\b`)

var locationAfterPreposition = regexp.MustCompile(`(?:\bà|\ben|\bau|\baux|\bdans le|\bdans la|\bin|\bat)\s+([A-ZÀ-Þ][a-zà-ÿ-]+(?:\s[A-ZÀ-Þ][a-zà-ÿ-]+)?)`)

// Sentence-initial words and common nouns that capitalize without naming
// anyone.
var entityStopWords = map[string]bool{
	"le": true, "la": true, "les": true, "un": true, "une": true, "des": true,
	"ce": true, "cette": true, "ces": true, "il": true, "elle": true, "ils": true,
	"nous": true, "vous": true, "mais": true, "dans": true, "selon": true,
	"après": true, "avant": true, "depuis": true, "pour": true, "avec": true,
	"the": true, "a": true, "an": true, "this": true, "that": true, "these": true,
	"it": true, "he": true, "she": true, "they": true, "after": true, "before": true,
	"lundi": true, "mardi": true, "mercredi": true, "jeudi": true, "vendredi": true,
	"samedi": true, "dimanche": true,
}

// ExtractEntities pulls persons, organizations, locations and dates out of
// the cluster's text with pattern heuristics. Deduplicated by name, first
// classification wins (organizations before persons: an org match is more
// specific than a bare capitalized run).
func ExtractEntities(articles []core.Article) []core.Entity {
	var text strings.Builder
	for _, a := range articles {
		text.WriteString(a.Title)
		text.WriteString(". ")
		text.WriteString(a.Body)
		text.WriteString(" ")
	}
	return extractFromText(text.String())
}

func extractFromText(text string) []core.Entity {
	seen := make(map[string]bool)
	var out []core.Entity
	add := func(name, kind string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			return
		}
		if entityStopWords[strings.ToLower(strings.Fields(name)[0])] {
			return
		}
		seen[strings.ToLower(name)] = true
		out = append(out, core.Entity{Name: name, Kind: kind})
	}

	for _, m := range organizationKeyword.FindAllStringSubmatch(text, -1) {
		add(m[1]+" "+m[2], "organization")
	}
	for _, m := range locationAfterPreposition.FindAllStringSubmatch(text, -1) {
		add(m[1], "location")
	}
	for _, m := range capitalizedRun.FindAllString(text, -1) {
		// Multi-word runs read as person names; single capitalized words are
		// too ambiguous to keep.
		if strings.Contains(strings.TrimSpace(m), " ") {
			add(m, "person")
		}
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		add(m, "date")
	}
	return out
}
