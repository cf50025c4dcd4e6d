package categorize

import (
	"testing"

	"veilleur/internal/core"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name     string
		articles []core.Article
		want     string
	}{
		{
			name: "politics dominates",
			articles: []core.Article{
				{Title: "Le gouvernement présente sa réforme", Body: "Le ministre a défendu la loi devant l'assemblée."},
			},
			want: "politique",
		},
		{
			name: "economy",
			articles: []core.Article{
				{Title: "L'inflation ralentit", Body: "La croissance du PIB reste faible, le chômage recule."},
			},
			want: "economie",
		},
		{
			name: "environment across articles",
			articles: []core.Article{
				{Title: "Canicule précoce", Body: "Les émissions continuent de croître."},
				{Title: "Sécheresse dans le sud", Body: "Le climat se dérègle."},
			},
			want: "environnement",
		},
		{
			name:     "no evidence",
			articles: []core.Article{{Title: "Sans rapport", Body: "Rien d'identifiable ici."}},
			want:     General,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := c.Classify(tt.articles)
			if got != tt.want {
				t.Errorf("Classify() = %s (%.2f), want %s", got, conf, tt.want)
			}
			if tt.want == General && conf != 0 {
				t.Errorf("general category should carry zero confidence, got %.2f", conf)
			}
			if tt.want != General && conf <= 0 {
				t.Errorf("matched category should carry positive confidence")
			}
		})
	}
}

func TestClassifyConfidenceShare(t *testing.T) {
	c := NewClassifier(nil)
	articles := []core.Article{{
		Title: "Grève contre la réforme",
		Body:  "Les syndicats appellent à la manifestation contre la loi du gouvernement.",
	}}
	got, conf := c.Classify(articles)
	// Mixed politics/society evidence: the winner's confidence is a share,
	// never the full 1.0.
	if conf >= 1 {
		t.Errorf("confidence = %.2f, want a fraction", conf)
	}
	if got != "politique" && got != "societe" {
		t.Errorf("category = %s", got)
	}
}

func TestNamesOrderedByPriority(t *testing.T) {
	names := NewClassifier(nil).Names()
	if len(names) == 0 || names[0] != "politique" {
		t.Errorf("names = %v", names)
	}
}
