// Package categorize assigns a news category to a cluster from keyword
// evidence in titles and bodies. Scoring is purely lexical so it runs before
// any model call and stays deterministic in simulation mode.
package categorize

import (
	"sort"
	"strings"

	"veilleur/internal/core"
)

// Category is one editorial section with its detection vocabulary.
type Category struct {
	Name     string
	Keywords []string // Lowercased match terms, title hits weigh double
	Priority int      // Tie-break, lower wins
}

// DefaultCategories returns the standard French news sections.
func DefaultCategories() []Category {
	return []Category{
		{
			Name:     "politique",
			Keywords: []string{"gouvernement", "assemblée", "sénat", "ministre", "élection", "réforme", "loi", "parlement", "préfet", "municipal", "président", "premier ministre", "motion de censure"},
			Priority: 1,
		},
		{
			Name:     "economie",
			Keywords: []string{"économie", "inflation", "croissance", "pib", "chômage", "entreprise", "bourse", "marché", "banque", "budget", "dette", "impôt", "salaire", "licenciement"},
			Priority: 2,
		},
		{
			Name:     "international",
			Keywords: []string{"onu", "otan", "union européenne", "bruxelles", "washington", "pékin", "moscou", "diplomatie", "ambassade", "sommet", "traité", "sanction", "frontière", "guerre"},
			Priority: 3,
		},
		{
			Name:     "societe",
			Keywords: []string{"école", "éducation", "hôpital", "santé", "justice", "police", "procès", "grève", "manifestation", "logement", "immigration", "retraite", "syndicat"},
			Priority: 4,
		},
		{
			Name:     "technologie",
			Keywords: []string{"intelligence artificielle", "numérique", "startup", "logiciel", "cybersécurité", "données", "algorithme", "internet", "smartphone", "satellite", "robot"},
			Priority: 5,
		},
		{
			Name:     "environnement",
			Keywords: []string{"climat", "réchauffement", "émissions", "biodiversité", "pollution", "énergie", "nucléaire", "renouvelable", "sécheresse", "inondation", "canicule"},
			Priority: 6,
		},
		{
			Name:     "culture",
			Keywords: []string{"festival", "cinéma", "musée", "exposition", "littérature", "théâtre", "musique", "patrimoine", "artiste"},
			Priority: 7,
		},
		{
			Name:     "sport",
			Keywords: []string{"match", "championnat", "tournoi", "équipe de france", "olympique", "football", "rugby", "tennis", "cyclisme", "stade"},
			Priority: 8,
		},
	}
}

// General is the fallback when no category gathers evidence.
const General = "general"

// Classifier scores clusters against a category set.
type Classifier struct {
	categories []Category
}

// NewClassifier builds a classifier; an empty set falls back to the default
// French sections.
func NewClassifier(categories []Category) *Classifier {
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	return &Classifier{categories: categories}
}

// Classify returns the best-matching category and a 0..1 confidence: the
// winner's share of all keyword evidence, zero when nothing matched.
func (c *Classifier) Classify(articles []core.Article) (string, float64) {
	var titles, bodies strings.Builder
	for _, a := range articles {
		titles.WriteString(strings.ToLower(a.Title))
		titles.WriteString(" ")
		bodies.WriteString(strings.ToLower(a.Body))
		bodies.WriteString(" ")
	}
	titleText := titles.String()
	bodyText := bodies.String()

	scores := make(map[string]int, len(c.categories))
	total := 0
	for _, cat := range c.categories {
		score := 0
		for _, kw := range cat.Keywords {
			score += 2 * strings.Count(titleText, kw)
			score += strings.Count(bodyText, kw)
		}
		scores[cat.Name] = score
		total += score
	}
	if total == 0 {
		return General, 0
	}

	ranked := append([]Category(nil), c.categories...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].Name], scores[ranked[j].Name]
		if si != sj {
			return si > sj
		}
		return ranked[i].Priority < ranked[j].Priority
	})

	best := ranked[0]
	if scores[best.Name] == 0 {
		return General, 0
	}
	return best.Name, float64(scores[best.Name]) / float64(total)
}

// Names returns the category names in priority order.
func (c *Classifier) Names() []string {
	sorted := append([]Category(nil), c.categories...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	names := make([]string, len(sorted))
	for i, cat := range sorted {
		names[i] = cat.Name
	}
	return names
}
