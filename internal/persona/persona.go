// Package persona picks the editorial voice a synthesis is rewritten in and
// scores how faithfully the rewrite follows it. Five named voices plus a
// neutral default; breaking news always ships neutral.
package persona

import "regexp"

// Persona is one editorial voice: its generation prompt and the lexical
// evidence the quality scorer checks the rewrite against.
type Persona struct {
	ID        string
	Name      string
	Signature string // Closing line the variant must carry
	Prompt    string // Prepended to the generation instructions

	ToneWords    []string         // Vocabulary carrying the voice's tone
	StyleMarkers []*regexp.Regexp // Structural tics of the voice
	Vocabulary   []string         // Register words expected somewhere in the text
	Forbidden    []string         // Words that break the voice
}

// Neutral is the default voice: no rewrite, no signature.
var Neutral = Persona{ID: "neutral", Name: "Neutre"}

// Catalog returns the five editorial voices.
func Catalog() []Persona {
	return []Persona{
		{
			ID:        "analyste",
			Name:      "L'Analyste",
			Signature: "Les chiffres parlent d'eux-mêmes.",
			Prompt:    "Tu écris dans la voix de L'Analyste : ton mesuré, démonstratif, appuyé sur les données chiffrées. Chaque affirmation est étayée. Termine par ta signature : « Les chiffres parlent d'eux-mêmes. »",
			ToneWords: []string{"données", "indicateur", "tendance", "mesure", "constat", "facteur", "corrélation"},
			StyleMarkers: []*regexp.Regexp{
				regexp.MustCompile(`\b\d+([.,]\d+)?\s*%`),
				regexp.MustCompile(`(?i)\b(premièrement|deuxièmement|enfin)\b`),
			},
			Vocabulary: []string{"analyse", "précisément", "en conséquence", "objectivement"},
			Forbidden:  []string{"incroyable", "hallucinant", "scandaleux"},
		},
		{
			ID:        "optimiste",
			Name:      "L'Optimiste",
			Signature: "Et demain sera meilleur.",
			Prompt:    "Tu écris dans la voix de L'Optimiste : chaleureux, tourné vers les solutions et les perspectives positives, sans naïveté. Termine par ta signature : « Et demain sera meilleur. »",
			ToneWords: []string{"espoir", "progrès", "opportunité", "solution", "avancée", "amélioration", "promesse"},
			StyleMarkers: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(heureusement|bonne nouvelle)\b`),
			},
			Vocabulary: []string{"perspective", "encourageant", "porteur", "dynamique"},
			Forbidden:  []string{"catastrophe", "désastre", "sans issue"},
		},
		{
			ID:        "sarcastique",
			Name:      "Le Sarcastique",
			Signature: "Mais tout va très bien, madame la marquise.",
			Prompt:    "Tu écris dans la voix du Sarcastique : ironie mordante, litotes, faux étonnements, sans jamais déformer les faits. Termine par ta signature : « Mais tout va très bien, madame la marquise. »",
			ToneWords: []string{"évidemment", "bien sûr", "comme prévu", "surprise", "ironie", "paradoxe", "étonnant"},
			StyleMarkers: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(quelle surprise|on s'en doutait|sans blague)\b`),
				regexp.MustCompile(`\.{3}|…`),
			},
			Vocabulary: []string{"naturellement", "croyez-le ou non", "rassurant", "pittoresque"},
			Forbidden:  []string{"merveilleux avenir", "tout ira bien"},
		},
		{
			ID:        "conteur",
			Name:      "Le Conteur",
			Signature: "Et l'histoire continue.",
			Prompt:    "Tu écris dans la voix du Conteur : narration incarnée, scènes, personnages, progression dramatique, en restant fidèle aux faits. Termine par ta signature : « Et l'histoire continue. »",
			ToneWords: []string{"histoire", "récit", "chapitre", "scène", "personnage", "dénouement", "tournant"},
			StyleMarkers: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(ce matin-là|tout commence|au fil des)\b`),
			},
			Vocabulary: []string{"raconter", "se déroule", "s'écrit", "témoin"},
			Forbidden:  []string{"il était une fois"},
		},
		{
			ID:        "pedagogue",
			Name:      "La Pédagogue",
			Signature: "Vous savez désormais l'essentiel.",
			Prompt:    "Tu écris dans la voix de La Pédagogue : tout est expliqué simplement, les termes techniques sont définis, les enjeux décomposés point par point. Termine par ta signature : « Vous savez désormais l'essentiel. »",
			ToneWords: []string{"comprendre", "expliquer", "autrement dit", "concrètement", "retenir", "simplement", "décryptage"},
			StyleMarkers: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(c'est-à-dire|en clair|pour résumer)\b`),
				regexp.MustCompile(`(?m)^\s*[-•]\s`),
			},
			Vocabulary: []string{"notion", "mécanisme", "étape", "repère"},
			Forbidden:  []string{"comme chacun sait", "inutile d'expliquer"},
		},
	}
}

// ByID indexes a persona list, the neutral voice included.
func ByID(personas []Persona) map[string]Persona {
	m := make(map[string]Persona, len(personas)+1)
	m[Neutral.ID] = Neutral
	for _, p := range personas {
		m[p.ID] = p
	}
	return m
}

// DefaultCategoryMapping routes the French news sections to their usual
// voice.
func DefaultCategoryMapping() map[string]string {
	return map[string]string{
		"politique":     "analyste",
		"economie":      "analyste",
		"international": "conteur",
		"societe":       "pedagogue",
		"technologie":   "pedagogue",
		"environnement": "optimiste",
		"culture":       "conteur",
		"sport":         "conteur",
	}
}
