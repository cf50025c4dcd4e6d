package persona

import (
	"testing"

	"veilleur/internal/core"
)

func TestSelectBreakingForcesNeutral(t *testing.T) {
	s := NewSelector(nil, nil, nil, 1)
	got := s.Select("politique", core.SentimentNegative, core.IntensityBreaking, "Alerte", nil)
	if got.Persona.ID != Neutral.ID || got.Reason != "breaking" {
		t.Errorf("Select() = %+v, want neutral/breaking", got)
	}
}

func TestSelectKeywordOverride(t *testing.T) {
	table := NewKeywordTable()
	table.Learn("budget de l'état", "analyste", 0.9)
	table.Learn("festival", "conteur", 0.4) // Below floor, must be ignored

	s := NewSelector(nil, nil, table, 1)

	got := s.Select("culture", core.SentimentNeutral, core.IntensityStandard, "Le budget de l'État en débat", nil)
	if got.Persona.ID != "analyste" || got.Reason != "keyword" {
		t.Errorf("Select() = %s/%s, want analyste/keyword", got.Persona.ID, got.Reason)
	}

	got = s.Select("societe", core.SentimentNeutral, core.IntensityStandard, "Un festival sous la pluie", nil)
	if got.Reason == "keyword" {
		t.Errorf("entry below confidence floor applied: %+v", got)
	}
}

func TestSelectKeywordMatchesEntities(t *testing.T) {
	table := NewKeywordTable()
	table.Learn("banque centrale", "analyste", 0.8)
	s := NewSelector(nil, nil, table, 1)

	got := s.Select("societe", core.SentimentNeutral, core.IntensityStandard, "Décision attendue",
		[]core.Entity{{Name: "Banque Centrale Européenne", Kind: "organization"}})
	if got.Persona.ID != "analyste" || got.Reason != "keyword" {
		t.Errorf("Select() = %s/%s, want analyste via entity keyword", got.Persona.ID, got.Reason)
	}
}

func TestSelectCategoryWeightDominates(t *testing.T) {
	s := NewSelector(nil, nil, nil, 42)
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		got := s.Select("politique", core.SentimentNeutral, core.IntensityStandard, "Titre", nil)
		counts[got.Persona.ID]++
	}
	// 70% of the weight sits on the mapped voice.
	if counts["analyste"] < 600 || counts["analyste"] > 800 {
		t.Errorf("analyste selected %d/1000 times, want ~700", counts["analyste"])
	}
	// The remaining voices all get a share.
	for _, id := range []string{"optimiste", "sarcastique", "conteur", "pedagogue"} {
		if counts[id] == 0 {
			t.Errorf("voice %s never selected", id)
		}
	}
}

func TestSelectSentimentModulation(t *testing.T) {
	s := NewSelector(nil, nil, nil, 7)
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		got := s.Select("politique", core.SentimentPositive, core.IntensityStandard, "Titre", nil)
		counts[got.Persona.ID]++
	}
	if counts["optimiste"] < 600 {
		t.Errorf("positive sentiment should favor the optimistic voice, got %v", counts)
	}

	counts = map[string]int{}
	for i := 0; i < 1000; i++ {
		got := s.Select("politique", core.SentimentNegative, core.IntensityStandard, "Titre", nil)
		counts[got.Persona.ID]++
	}
	if counts["sarcastique"] < 600 {
		t.Errorf("negative sentiment should favor the sardonic voice, got %v", counts)
	}
}

func TestScoreAnalystText(t *testing.T) {
	analyste := ByID(Catalog())["analyste"]
	text := `L'analyse des données montre une tendance nette : l'indicateur progresse de 12 % sur un an.
Premièrement, le constat est établi objectivement. En conséquence, précisément, la mesure s'impose.
Les chiffres parlent d'eux-mêmes.`

	s := Score(text, analyste)
	if s.Signature != 1 {
		t.Errorf("signature not detected: %+v", s)
	}
	if s.Tone < 0.9 {
		t.Errorf("tone = %.2f, want near 1 with many tone words", s.Tone)
	}
	if !Accept(s, DefaultQualityThreshold) {
		t.Errorf("conforming text rejected: %+v", s)
	}
}

func TestScoreRejectsOffVoiceText(t *testing.T) {
	analyste := ByID(Catalog())["analyste"]
	text := "C'est incroyable, hallucinant, scandaleux ! Personne ne sait ce qui se passe."

	s := Score(text, analyste)
	if Accept(s, DefaultQualityThreshold) {
		t.Errorf("off-voice text accepted: %+v", s)
	}
}

func TestAcceptSignatureAndToneGate(t *testing.T) {
	// No signature and weak tone rejects even with a decent total.
	s := Scores{Tone: 0.3, Style: 1, Signature: 0, Vocabulary: 1, Total: 0.705}
	if Accept(s, 0.6) {
		t.Error("missing signature with weak tone must reject")
	}
	// Same total with the signature present passes.
	s = Scores{Tone: 0.3, Style: 1, Signature: 1, Vocabulary: 0.5, Total: 0.705}
	if !Accept(s, 0.6) {
		t.Error("signed text above threshold must pass")
	}
}
