package contextbuild

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"veilleur/internal/core"
)

// arcInstructions is the fixed per-arc instruction line appended to the
// historical context, steering the generator's framing of the update.
var arcInstructions = map[core.NarrativeArc]string{
	core.ArcEmerging:   "Histoire émergente : présenter les faits comme une actualité nouvelle, poser le contexte.",
	core.ArcDeveloping: "Histoire en développement : relier les faits nouveaux aux précédents, souligner ce qui change.",
	core.ArcPeak:       "Histoire au sommet : synthétiser l'ensemble, hiérarchiser les développements majeurs.",
	core.ArcDeclining:  "Histoire en décrue : faire le point, consolider ce qui est établi.",
	core.ArcResolved:   "Histoire close : conclure, tirer le bilan et les conséquences durables.",
}

// DeriveArc places a story on its lifecycle from its update history and the
// size of the current cluster.
func DeriveArc(priors []core.PastSynthesis, currentArticles int, now time.Time) core.NarrativeArc {
	if len(priors) <= 1 {
		return core.ArcEmerging
	}

	lastUpdate := time.Time{}
	for _, p := range priors {
		t := p.UpdatedAt
		if t.IsZero() {
			t = p.CreatedAt
		}
		if t.After(lastUpdate) {
			lastUpdate = t
		}
	}
	gap := now.Sub(lastUpdate)

	switch {
	case gap > 7*24*time.Hour:
		return core.ArcResolved
	case len(priors) >= 4 && currentArticles >= 5:
		return core.ArcPeak
	case gap > 3*24*time.Hour && currentArticles < 3:
		return core.ArcDeclining
	default:
		return core.ArcDeveloping
	}
}

// History is the formatted historical context of an ongoing story.
type History struct {
	Text string
	Arc  core.NarrativeArc
}

// AssembleHistory formats the compact historical section fed to the
// generator: chronology of the last five events, established key points,
// how the recurring entities evolved, the last contradictions on record,
// and the narrative-arc instruction. Returns a zero History when the
// cluster has no past.
func AssembleHistory(priors []core.PastSynthesis, currentArticles int, now time.Time) History {
	arc := DeriveArc(priors, currentArticles, now)
	if len(priors) == 0 {
		return History{Arc: core.ArcEmerging}
	}

	sorted := append([]core.PastSynthesis(nil), priors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	var b strings.Builder
	b.WriteString("CONTEXTE HISTORIQUE DE L'HISTOIRE\n\n")

	b.WriteString("Chronologie :\n")
	start := 0
	if len(sorted) > 5 {
		start = len(sorted) - 5
	}
	for _, p := range sorted[start:] {
		b.WriteString(fmt.Sprintf("- %s : %s — %s\n",
			p.CreatedAt.Format("02/01/2006"), p.Title, clip(strings.Join(p.KeyPoints, " ; "), 200)))
	}

	b.WriteString("\nPoints établis :\n")
	count := 0
	seen := make(map[string]bool)
	for i := len(sorted) - 1; i >= 0 && count < 5; i-- {
		for _, kp := range sorted[i].KeyPoints {
			if count >= 5 {
				break
			}
			if kp = strings.TrimSpace(kp); kp == "" || seen[strings.ToLower(kp)] {
				continue
			}
			seen[strings.ToLower(kp)] = true
			b.WriteString("- " + kp + "\n")
			count++
		}
	}

	writeEntityEvolution(&b, sorted)
	writeContradictionHistory(&b, sorted)

	b.WriteString("\n" + arcInstructions[arc] + "\n")
	return History{Text: b.String(), Arc: arc}
}

// writeEntityEvolution lists the five most recurring entities, each with the
// dates of its last three appearances.
func writeEntityEvolution(b *strings.Builder, sorted []core.PastSynthesis) {
	type track struct {
		kind  string
		dates []string
	}
	var order []string
	tracks := make(map[string]*track)
	for _, p := range sorted {
		for _, e := range p.KeyEntities {
			name := strings.TrimSpace(e.Name)
			if name == "" {
				continue
			}
			tr, ok := tracks[name]
			if !ok {
				tr = &track{kind: e.Kind}
				tracks[name] = tr
				order = append(order, name)
			}
			tr.dates = append(tr.dates, p.CreatedAt.Format("02/01/2006"))
		}
	}
	if len(order) == 0 {
		return
	}

	sort.SliceStable(order, func(i, j int) bool {
		return len(tracks[order[i]].dates) > len(tracks[order[j]].dates)
	})
	if len(order) > 5 {
		order = order[:5]
	}

	b.WriteString("\nÉvolution des entités :\n")
	for _, name := range order {
		tr := tracks[name]
		dates := tr.dates
		if len(dates) > 3 {
			dates = dates[len(dates)-3:]
		}
		line := "- " + name
		if tr.kind != "" {
			line += " (" + tr.kind + ")"
		}
		b.WriteString(line + " : " + strings.Join(dates, ", ") + "\n")
	}
}

// writeContradictionHistory lists the three most recent contradictions
// recorded across the story's past syntheses.
func writeContradictionHistory(b *strings.Builder, sorted []core.PastSynthesis) {
	var all []core.Contradiction
	for _, p := range sorted {
		all = append(all, p.Contradictions...)
	}
	if len(all) == 0 {
		return
	}
	if len(all) > 3 {
		all = all[len(all)-3:]
	}

	b.WriteString("\nContradictions relevées :\n")
	for _, c := range all {
		b.WriteString(fmt.Sprintf("- [%s] %s\n", c.Kind, clip(c.Detail, 200)))
	}
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
