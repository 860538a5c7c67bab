package providers

import "context"

// SearchResult is one standardized web-search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchProvider is the interface every web-search backend must implement.
type SearchProvider interface {
	// Search runs a query and returns standardized results.
	Search(ctx context.Context, query string) ([]SearchResult, error)

	// Name returns the unique provider name (e.g. "serper").
	Name() string
}
