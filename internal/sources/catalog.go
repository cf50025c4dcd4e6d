package sources

import (
	"time"

	"veilleur/internal/core"
)

// DefaultCatalog returns the built-in source list. Francophone outlets first,
// a couple of anglophone wires for international coverage. Paywalled sites
// register the partial-extraction strategy so their RSS metadata still counts.
func DefaultCatalog() []core.Source {
	return []core.Source{
		{
			Domain:  "lemonde.fr",
			Name:    "Le Monde",
			BaseURL: "https://www.lemonde.fr",
			Sections: []string{
				"https://www.lemonde.fr/actualite-en-continu/",
				"https://www.lemonde.fr/international/",
			},
			Selectors: core.Selectors{
				ArticleLinks: "a.teaser__link, section.teaser a[href*='/article/']",
				Title:        "h1.article__title, h1",
				Content:      "article.article__content p, section.article__content p",
			},
			FeedURLs:  []string{"https://www.lemonde.fr/rss/une.xml"},
			RateLimit: 2 * time.Second,
			Tier:      core.TierMajor,
			Language:  "fr",
			Category:  "politique",
		},
		{
			Domain:  "lefigaro.fr",
			Name:    "Le Figaro",
			BaseURL: "https://www.lefigaro.fr",
			Sections: []string{
				"https://www.lefigaro.fr/actualites",
			},
			Selectors: core.Selectors{
				ArticleLinks: "a.fig-profile__link, article a[href*='lefigaro.fr']",
				Title:        "h1.fig-main-title, h1",
				Content:      "div.fig-body-content p, article p",
			},
			FeedURLs:  []string{"https://www.lefigaro.fr/rss/figaro_actualites.xml"},
			RateLimit: 2 * time.Second,
			Tier:      core.TierMajor,
			Language:  "fr",
			Category:  "politique",
		},
		{
			Domain:  "liberation.fr",
			Name:    "Libération",
			BaseURL: "https://www.liberation.fr",
			Selectors: core.Selectors{
				ArticleLinks: "article a[href*='liberation.fr']",
				Title:        "h1",
				Content:      "article p",
			},
			FeedURLs:   []string{"https://www.liberation.fr/arc/outboundfeeds/rss-all/?outputType=xml"},
			RateLimit:  2 * time.Second,
			Tier:       core.TierMajor,
			Language:   "fr",
			Category:   "politique",
			Strategies: []core.ExtractionMethod{core.ExtractRSSFull, core.ExtractScrapePartial},
		},
		{
			Domain:  "france24.com",
			Name:    "France 24",
			BaseURL: "https://www.france24.com/fr/",
			Selectors: core.Selectors{
				ArticleLinks: "a.article__title-link, div.m-item-list-article a",
				Title:        "h1.t-content__title, h1",
				Content:      "div.t-content__body p",
			},
			FeedURLs:  []string{"https://www.france24.com/fr/rss"},
			RateLimit: 1 * time.Second,
			Tier:      core.TierMajor,
			Language:  "fr",
			Category:  "international",
		},
		{
			Domain:  "rfi.fr",
			Name:    "RFI",
			BaseURL: "https://www.rfi.fr/fr/",
			Selectors: core.Selectors{
				ArticleLinks: "a.article__title-link, div.m-item-list-article a",
				Title:        "h1.t-content__title, h1",
				Content:      "div.t-content__body p",
			},
			FeedURLs:  []string{"https://www.rfi.fr/fr/rss"},
			RateLimit: 1 * time.Second,
			Tier:      core.TierStandard,
			Language:  "fr",
			Category:  "international",
		},
		{
			Domain:  "20minutes.fr",
			Name:    "20 Minutes",
			BaseURL: "https://www.20minutes.fr",
			Selectors: core.Selectors{
				ArticleLinks: "article a[href*='20minutes.fr'], a.teaser-link",
				Title:        "h1.nodeheader-title, h1",
				Content:      "div.lt-endor-body p, article p",
			},
			FeedURLs:  []string{"https://www.20minutes.fr/feeds/rss-une.xml"},
			RateLimit: 1 * time.Second,
			Tier:      core.TierStandard,
			Language:  "fr",
			Category:  "societe",
		},
		{
			Domain:  "lesechos.fr",
			Name:    "Les Échos",
			BaseURL: "https://www.lesechos.fr",
			Selectors: core.Selectors{
				ArticleLinks: "article a[href*='lesechos.fr']",
				Title:        "h1",
				Content:      "div.post-paywall p, article p",
			},
			FeedURLs:   []string{"https://services.lesechos.fr/rss/les-echos-economie.xml"},
			RateLimit:  2 * time.Second,
			Tier:       core.TierMajor,
			Language:   "fr",
			Category:   "economie",
			Strategies: []core.ExtractionMethod{core.ExtractRSSMetadata, core.ExtractScrapePartial},
		},
		{
			Domain:  "ouest-france.fr",
			Name:    "Ouest-France",
			BaseURL: "https://www.ouest-france.fr",
			Selectors: core.Selectors{
				ArticleLinks: "a.titre-lien, article a[href*='ouest-france.fr']",
				Title:        "h1",
				Content:      "div.article-texte p, article p",
			},
			FeedURLs:  []string{"https://www.ouest-france.fr/rss/une"},
			RateLimit: 1 * time.Second,
			Tier:      core.TierStandard,
			Language:  "fr",
			Category:  "regions",
		},
		{
			Domain:  "mediapart.fr",
			Name:    "Mediapart",
			BaseURL: "https://www.mediapart.fr",
			Selectors: core.Selectors{
				ArticleLinks: "a[href*='/journal/']",
				Title:        "h1",
				Content:      "div.content-article p",
			},
			FeedURLs:   []string{"https://www.mediapart.fr/articles/feed"},
			RateLimit:  3 * time.Second,
			Tier:       core.TierStandard,
			Language:   "fr",
			Category:   "politique",
			Strategies: []core.ExtractionMethod{core.ExtractRSSMetadata, core.ExtractScrapePartial},
		},
		{
			Domain:  "sciencesetavenir.fr",
			Name:    "Sciences et Avenir",
			BaseURL: "https://www.sciencesetavenir.fr",
			Selectors: core.Selectors{
				ArticleLinks: "article a[href*='sciencesetavenir.fr']",
				Title:        "h1",
				Content:      "div.article-body p, article p",
			},
			FeedURLs:  []string{"https://www.sciencesetavenir.fr/rss.xml"},
			RateLimit: 1 * time.Second,
			Tier:      core.TierMinor,
			Language:  "fr",
			Category:  "sciences",
		},
		{
			Domain:  "numerama.com",
			Name:    "Numerama",
			BaseURL: "https://www.numerama.com",
			Selectors: core.Selectors{
				ArticleLinks: "article a[href*='numerama.com'], h2.entry-title a",
				Title:        "h1.entry-title, h1",
				Content:      "div.entry-content p",
			},
			FeedURLs:  []string{"https://www.numerama.com/feed/"},
			RateLimit: 1 * time.Second,
			Tier:      core.TierMinor,
			Language:  "fr",
			Category:  "tech",
		},
		{
			Domain:  "reuters.com",
			Name:    "Reuters",
			BaseURL: "https://www.reuters.com",
			Sections: []string{
				"https://www.reuters.com/world/",
			},
			Selectors: core.Selectors{
				ArticleLinks: "a[data-testid='Heading'], li[class*='story'] a",
				Title:        "h1",
				Content:      "div.article-body__content__17Yit p, article p",
			},
			RateLimit: 2 * time.Second,
			Tier:      core.TierMajor,
			Language:  "en",
			Category:  "international",
		},
	}
}
