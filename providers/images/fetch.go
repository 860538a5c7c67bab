package images

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/RyszardRzepa/topicowl-sub007/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Photo is one standardized stock-photo result.
type Photo struct {
	URL          string `json:"url"`
	Photographer string `json:"photographer"`
	Alt          string `json:"alt"`
}

// response mirrors the Pexels search API payload.
type response struct {
	Photos []struct {
		Photographer string `json:"photographer"`
		Alt          string `json:"alt"`
		Src          struct {
			Large string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

// Fetcher wraps the Pexels stock-image API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher creates a new image fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Configured reports whether an API key is present.
func (f *Fetcher) Configured() bool {
	return f.Config.PexelsAPIKey != ""
}

// Search returns stock photos matching the query.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) ([]Photo, error) {
	if !f.Configured() {
		return nil, fmt.Errorf("pexels API key is not configured")
	}
	if limit <= 0 {
		limit = 5
	}

	endpoint := fmt.Sprintf("%s/search?query=%s&per_page=%d", f.Config.PexelsBaseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", f.Config.PexelsAPIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image search bad status: %s", resp.Status)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}

	photos := make([]Photo, 0, len(parsed.Photos))
	for _, p := range parsed.Photos {
		if p.Src.Large == "" {
			continue
		}
		photos = append(photos, Photo{URL: p.Src.Large, Photographer: p.Photographer, Alt: p.Alt})
	}

	f.Logger.Debug("Image search completed", zap.String("query", query), zap.Int("photos", len(photos)))
	return photos, nil
}
