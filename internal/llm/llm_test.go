package llm

import (
	"context"
	"strings"
	"testing"

	"veilleur/internal/vectorstore"
)

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		wantErr  bool
	}{
		{"single user turn", UserMessage("Résume cette actualité"), false},
		{"system plus user", []Message{{Role: RoleSystem, Content: "Tu es un analyste."}, {Role: RoleUser, Content: "Vas-y"}}, false},
		{"empty list", nil, true},
		{"unknown role", []Message{{Role: "tool", Content: "x"}}, true},
		{"empty content", []Message{{Role: RoleUser, Content: ""}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessages(tt.messages)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessages() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildContentsMapsRoles(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "Tu es un analyste de presse."},
		{Role: RoleUser, Content: "Première version."},
		{Role: RoleAssistant, Content: "Voici la synthèse."},
		{Role: RoleUser, Content: "Mets-la à jour."},
	}

	contents, system := buildContents(messages)
	if system != "Tu es un analyste de presse." {
		t.Errorf("system = %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("len(contents) = %d, want 3", len(contents))
	}
	wantRoles := []string{"user", "model", "user"}
	for i, c := range contents {
		if c.Role != wantRoles[i] {
			t.Errorf("contents[%d].Role = %q, want %q", i, c.Role, wantRoles[i])
		}
	}
}

func TestBuildContentsSystemOnly(t *testing.T) {
	contents, system := buildContents([]Message{{Role: RoleSystem, Content: "Consigne seule."}})
	if system != "" {
		t.Errorf("system = %q, want empty when folded into a user turn", system)
	}
	if len(contents) != 1 || contents[0].Role != "user" {
		t.Fatalf("contents = %+v, want one user turn", contents)
	}
}

func TestCostUSD(t *testing.T) {
	usage := Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}
	if got := CostUSD("gemini-2.5-flash", usage); got != 2.80 {
		t.Errorf("CostUSD(flash) = %v, want 2.80", got)
	}
	// Unknown models use the default rates rather than zero.
	if got := CostUSD("modèle-inconnu", usage); got != 2.80 {
		t.Errorf("CostUSD(unknown) = %v, want 2.80", got)
	}
	if got := CostUSD("gemini-2.5-flash", Usage{}); got != 0 {
		t.Errorf("CostUSD(empty) = %v, want 0", got)
	}
}

func TestScriptedClientQueueThenResponder(t *testing.T) {
	client := NewScriptedClient()
	client.Enqueue(`{"title":"Grève des transports"}`)
	client.Responder = func(messages []Message, opts Options) (Completion, error) {
		return Completion{Content: "réponse du répondeur", Model: "simulation"}, nil
	}

	ctx := context.Background()
	first, err := client.Complete(ctx, UserMessage("question 1"), Options{})
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	if !strings.Contains(first.Content, "Grève") {
		t.Errorf("queued content = %q", first.Content)
	}

	second, err := client.Complete(ctx, UserMessage("question 2"), Options{})
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	if second.Content != "réponse du répondeur" {
		t.Errorf("responder content = %q", second.Content)
	}

	if got := len(client.Requests()); got != 2 {
		t.Errorf("Requests() len = %d, want 2", got)
	}
}

func TestHashedEmbeddingDeterministic(t *testing.T) {
	a := HashedEmbedding("réforme des retraites manifestation syndicats", 64)
	b := HashedEmbedding("réforme des retraites manifestation syndicats", 64)
	if vectorstore.CosineSimilarity(a, b) < 0.999 {
		t.Error("same text should embed identically")
	}

	near := HashedEmbedding("réforme des retraites manifestation nationale syndicats", 64)
	far := HashedEmbedding("résultats du championnat de football ce dimanche", 64)

	simNear := vectorstore.CosineSimilarity(a, near)
	simFar := vectorstore.CosineSimilarity(a, far)
	if simNear <= simFar {
		t.Errorf("overlapping vocabulary should score higher: near=%v far=%v", simNear, simFar)
	}
}

func TestMeteredClientAccumulates(t *testing.T) {
	inner := NewScriptedClient()
	inner.Enqueue("première synthèse", "deuxième synthèse")
	metered := NewMeteredClient(inner)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := metered.Complete(ctx, UserMessage("génère"), Options{}); err != nil {
			t.Fatalf("Complete() = %v", err)
		}
	}

	usage, calls, cost := metered.Totals()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if usage.PromptTokens != 200 {
		t.Errorf("prompt tokens = %d, want 200", usage.PromptTokens)
	}
	if cost <= 0 {
		t.Errorf("cost = %v, want > 0", cost)
	}

	prior := metered.Cost()
	inner.Enqueue("troisième")
	if _, err := metered.Complete(ctx, UserMessage("encore"), Options{}); err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	if metered.CostSince(prior) <= 0 {
		t.Error("CostSince() should report the extra spend")
	}

	metered.Reset()
	if _, calls, _ := metered.Totals(); calls != 0 {
		t.Errorf("calls after Reset = %d, want 0", calls)
	}
}
