package collector

import (
	"context"
	"strings"
)

// Place is a target resolved on one review platform
type Place struct {
	ID        string
	Name      string
	ReviewURL string
}

// Source is a review platform the collector can crawl
type Source interface {
	Name() string
	// Resolve maps a free-text target or a direct place URL to a place.
	// The first search hit is authoritative. Errors wrapping
	// core.ErrResolution are not retried.
	Resolve(ctx context.Context, page Page, target string) (Place, error)
	// LoadMore asks the page to render further reviews
	LoadMore(ctx context.Context, page Page) error
	// Parse extracts review cards and the store name from a page snapshot
	Parse(html string) ([]Entry, string, error)
}

func isURL(target string) bool {
	t := strings.ToLower(strings.TrimSpace(target))
	return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://")
}

// DefaultSources returns the built-in platforms keyed by name
func DefaultSources() map[string]Source {
	return map[string]Source{
		NaverName: NewNaver(),
		KakaoName: NewKakao(),
	}
}
