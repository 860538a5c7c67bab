package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/RyszardRzepa/topicowl-sub007/config"
	"github.com/RyszardRzepa/topicowl-sub007/providers"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Response is the JSON shape returned by the Serper search API.
type Response struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Fetcher wraps the Serper web-search API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher creates a new web-search fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name returns the provider name.
func (f *Fetcher) Name() string { return "serper" }

// Search runs a web search and returns standardized results.
func (f *Fetcher) Search(ctx context.Context, query string) ([]providers.SearchResult, error) {
	if f.Config.SerperAPIKey == "" {
		return nil, fmt.Errorf("serper API key is not configured")
	}

	body, err := json.Marshal(map[string]string{"q": query})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Config.SerperBaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", f.Config.SerperAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned bad status: %s", resp.Status)
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]providers.SearchResult, 0, len(parsed.Organic))
	for _, hit := range parsed.Organic {
		if hit.Link == "" {
			continue
		}
		results = append(results, providers.SearchResult{
			Title:   hit.Title,
			URL:     hit.Link,
			Snippet: hit.Snippet,
		})
	}

	f.Logger.Debug("Web search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// FetchPageText downloads a result page and extracts its readable paragraph
// text. Boilerplate-heavy or non-HTML pages yield an empty string, not an error.
func (f *Fetcher) FetchPageText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; topicowl-bot/1.0)")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page bad status: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script, style, nav, footer, header").Remove()

	var sb strings.Builder
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) < 40 {
			return
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	})

	const maxPageText = 8000
	text := sb.String()
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}
	return text, nil
}
