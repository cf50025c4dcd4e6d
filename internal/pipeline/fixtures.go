package pipeline

import (
	"fmt"
	"strings"
	"time"

	"veilleur/internal/broker"
	"veilleur/internal/categorize"
	"veilleur/internal/clustering"
	"veilleur/internal/contextbuild"
	"veilleur/internal/continuity"
	"veilleur/internal/core"
	"veilleur/internal/embed"
	"veilleur/internal/generator"
	"veilleur/internal/health"
	"veilleur/internal/knowledge"
	"veilleur/internal/llm"
	"veilleur/internal/persister"
	"veilleur/internal/persona"
	"veilleur/internal/vectorstore"
)

// Fixture story bodies. Articles of the same story share a long common block
// so the hashed-bag-of-words embeddings cluster them; stories share almost no
// content words so they stay apart.
const (
	fixtureRetraites = "Le gouvernement a présenté la réforme des retraites devant le Parlement. " +
		"Les syndicats appellent à la grève générale contre le report de l'âge légal de départ à soixante-quatre ans. " +
		"La mobilisation sociale s'annonce massive dans tout le pays et les cortèges se préparent."

	fixtureInondations = "La crue du Rhin a provoqué des inondations majeures à Strasbourg et dans les communes voisines. " +
		"La préfecture du Bas-Rhin a déclenché le plan d'urgence, des centaines d'habitants ont été évacués vers des gymnases."

	fixtureFootball = "Le championnat de Ligue 1 a livré son verdict ce dimanche soir au stade Vélodrome. " +
		"Marseille s'impose contre Lyon grâce à un doublé de son attaquant, le classement se resserre en tête."
)

// FixtureArticles is the deterministic corpus of a simulation run: three
// stories of unequal size plus one noise article that should end up in no
// cluster.
func FixtureArticles(now time.Time) []core.Article {
	fix := func(domain, source, path, title, body string, tier core.SourceTier, category string, age time.Duration) core.Article {
		return core.Article{
			URL:        "https://" + domain + path,
			Domain:     domain,
			SourceName: source,
			Title:      title,
			Body:       body,
			Language:   "fr",
			Method:     core.ExtractScrapeFull,
			Tier:       tier,
			Category:   category,
			Published:  now.Add(-age),
			FetchedAt:  now,
		}
	}

	return []core.Article{
		fix("simu-monde.fr", "Le Simulateur", "/retraites-greve",
			"Réforme des retraites : les syndicats appellent à la grève",
			fixtureRetraites+" Les centrales annoncent une journée de blocage reconductible dès mardi prochain.",
			core.TierMajor, "politique", 2*time.Hour),
		fix("simu-echo.fr", "L'Écho Simulé", "/retraites-parlement",
			"Retraites : le Parlement entame l'examen du texte",
			fixtureRetraites+" Les députés de l'opposition ont déposé plusieurs milliers d'amendements sur le texte.",
			core.TierMajor, "politique", 3*time.Hour),
		fix("simu-quotidien.fr", "Le Quotidien Fictif", "/retraites-mobilisation",
			"Grève contre la réforme des retraites : à quoi s'attendre",
			fixtureRetraites+" Les transports publics et les écoles seront fortement perturbés selon les premières estimations.",
			core.TierStandard, "politique", 1*time.Hour),

		fix("simu-alsace.fr", "Gazette d'Alsace", "/inondations-strasbourg",
			"Inondations à Strasbourg : des centaines d'évacués",
			fixtureInondations+" Les pompiers poursuivent les reconnaissances dans les quartiers inondés du sud de la ville.",
			core.TierStandard, "societe", 4*time.Hour),
		fix("simu-est.fr", "L'Est Simulé", "/crue-rhin",
			"Crue du Rhin : le plan d'urgence déclenché dans le Bas-Rhin",
			fixtureInondations+" La montée des eaux devrait atteindre son pic dans la nuit d'après les prévisionnistes.",
			core.TierStandard, "societe", 5*time.Hour),

		fix("simu-sport.fr", "Simul Sport", "/ligue1-marseille",
			"Ligue 1 : Marseille renverse Lyon au Vélodrome",
			fixtureFootball+" Le public du Vélodrome a fêté cette victoire capitale dans la course au titre.",
			core.TierMinor, "sport", 6*time.Hour),
		fix("simu-ballon.fr", "Le Ballon Rond", "/ligue1-classement",
			"Ligue 1 : le classement se resserre après la victoire de Marseille",
			fixtureFootball+" Lyon reste troisième malgré la défaite et conserve une place européenne provisoire.",
			core.TierMinor, "sport", 7*time.Hour),

		fix("simu-cosmos.fr", "Cosmos Hebdo", "/comete-observation",
			"Une comète inattendue visible à l'œil nu cette semaine",
			"Les astronomes amateurs pourront observer une comète particulièrement brillante au crépuscule. "+
				"Le phénomène céleste restera visible quelques jours avant de s'éloigner du Soleil.",
			core.TierMinor, "culture", 8*time.Hour),
	}
}

// NewSimulation wires a fully offline pipeline: memory stores, the scripted
// LLM backend and the fixture corpus. No configuration, no network, no keys.
func NewSimulation() *Manager {
	client := llm.NewScriptedClient()
	client.Responder = simulationResponder

	store := vectorstore.NewMemoryStore()
	events := broker.New(500)

	deps := Deps{
		Health:     health.NewMemoryStore(),
		Store:      store,
		Events:     events,
		Embedder:   embed.New(client, events, 0),
		Past:       continuity.NewSelector(store, 0),
		Engine:     clustering.NewEngine(clustering.Params{}),
		Decider:    continuity.NewDecider(store, continuity.Params{}),
		Builder:    contextbuild.NewBuilder(nil, contextbuild.Options{}),
		Generator:  generator.New(client, generator.Options{}),
		Classifier: categorize.NewClassifier(nil),
		Personas:   persona.NewSelector(nil, nil, nil, 1),
		Persister:  persister.New(store),
		Hub:        knowledge.NewHub(store, client, knowledge.DefaultAliases()),
	}
	p := New(deps, Options{PersonasEnabled: true})
	return NewManager(p, nil)
}

// simulationResponder answers generation requests with a deterministic valid
// reply built from the prompt's topic line, so simulation runs exercise the
// full parsing path instead of the fallback skeleton.
func simulationResponder(messages []llm.Message, _ llm.Options) (llm.Completion, error) {
	topic := "Synthèse simulée"
	for _, m := range messages {
		if m.Role != llm.RoleUser {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			if t, ok := strings.CutPrefix(line, "SUJET : "); ok {
				topic = strings.TrimSpace(t)
			}
		}
	}

	reply := fmt.Sprintf(`{
  "title": %q,
  "introduction": "Synthèse simulée produite hors ligne à partir des extraits fournis.",
  "body": "Les faits rapportés par les sources convergent sur l'essentiel du sujet. Cette version simulée restitue le contenu des extraits sans appel à un modèle distant. Les décisions annoncées ont entraîné des réactions immédiates dans le pays.",
  "keyPoints": ["Les sources convergent sur les faits principaux.", "La situation continue d'évoluer."],
  "analysis": "Analyse simulée : la couverture reste factuelle et aucune contradiction majeure n'est relevée entre les sources.",
  "causal_chain": [],
  "predictions": [],
  "sentiment": "neutral",
  "topic_intensity": "standard",
  "readingTime": 2,
  "narrativeArc": "emerging"
}`, topic)

	return llm.Completion{
		Content: reply,
		Model:   "simulation",
		Usage:   llm.Usage{PromptTokens: 200, CompletionTokens: 150},
	}, nil
}
