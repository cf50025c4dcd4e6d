// Package contextbuild prepares the generation payload for a cluster:
// overlapping text chunks ranked by fact density, detected contradictions,
// extracted entities, the story's historical context and the optional web
// enrichment block.
package contextbuild

import (
	"regexp"
	"strings"

	"veilleur/internal/core"
)

// Chunk is one overlapping window of an article's text.
type Chunk struct {
	Text        string  `json:"text"`
	ArticleURL  string  `json:"article_url"`
	SourceName  string  `json:"source_name"`
	Index       int     `json:"index"` // Position within the article
	FactDensity float64 `json:"fact_density"`
}

// Sentence boundaries: punctuation followed by whitespace and an uppercase
// or guillemet opener. Good enough for French and English news prose.
var sentenceEnd = regexp.MustCompile(`([.!?…])\s+`)

// splitSentences cuts text on sentence boundaries, keeping the punctuation.
func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkArticle splits title+body into overlapping chunks of roughly
// chunkWords words. Sentences fill a chunk greedily; when the next sentence
// would overflow, the chunk is emitted and the last overlap words open the
// next one.
func ChunkArticle(a core.Article, chunkWords, overlap int) []Chunk {
	if chunkWords <= 0 {
		chunkWords = 256
	}
	if overlap < 0 || overlap >= chunkWords {
		overlap = 50
	}

	text := strings.TrimSpace(a.Title + ". " + a.Body)
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var words []string
	flush := func() {
		if len(words) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:       strings.Join(words, " "),
			ArticleURL: a.URL,
			SourceName: a.SourceName,
			Index:      len(chunks),
		})
		if overlap > 0 && len(words) > overlap {
			words = append([]string(nil), words[len(words)-overlap:]...)
		} else {
			words = nil
		}
	}

	for _, sentence := range sentences {
		sw := strings.Fields(sentence)
		if len(words)+len(sw) > chunkWords && len(words) > 0 {
			flush()
		}
		words = append(words, sw...)
	}
	if len(words) > overlap || len(chunks) == 0 {
		// The trailing words are a real chunk unless they are only the
		// overlap copied from the previous one.
		chunks = append(chunks, Chunk{
			Text:       strings.Join(words, " "),
			ArticleURL: a.URL,
			SourceName: a.SourceName,
			Index:      len(chunks),
		})
	}
	return chunks
}

// ChunkCluster chunks every article of a cluster and scores each chunk's
// fact density.
func ChunkCluster(articles []core.Article, chunkWords, overlap int) []Chunk {
	var all []Chunk
	for _, a := range articles {
		chunks := ChunkArticle(a, chunkWords, overlap)
		for i := range chunks {
			chunks[i].FactDensity = FactDensity(chunks[i].Text, a.Language)
		}
		all = append(all, chunks...)
	}
	return all
}

// TopChunks returns the k most fact-dense chunks, original order preserved
// inside the selection so the narrative still reads forward.
func TopChunks(chunks []Chunk, k int) []Chunk {
	if k <= 0 || len(chunks) <= k {
		return chunks
	}
	idx := make([]int, len(chunks))
	for i := range idx {
		idx[i] = i
	}
	// Partial selection by density, then restore input order.
	sortByDensity(idx, chunks)
	keep := make(map[int]bool, k)
	for _, i := range idx[:k] {
		keep[i] = true
	}
	out := make([]Chunk, 0, k)
	for i, c := range chunks {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

func sortByDensity(idx []int, chunks []Chunk) {
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && chunks[idx[j]].FactDensity > chunks[idx[j-1]].FactDensity; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
}
