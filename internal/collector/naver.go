package collector

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"pulse/internal/core"
)

const (
	NaverName        = "naver"
	naverSearchURL   = "https://m.map.naver.com/search2/search.naver?query="
	naverReviewURL   = "https://m.place.naver.com/restaurant/%s/review/visitor"
	naverPlaceHost   = "m.place.naver.com"
	naverMinCardText = 10
)

var naverPlaceID = regexp.MustCompile(`/(?:restaurant|place)/(\d+)`)

// Naver crawls visitor reviews from Naver Place mobile pages
type Naver struct{}

func NewNaver() *Naver { return &Naver{} }

func (n *Naver) Name() string { return NaverName }

func (n *Naver) Resolve(ctx context.Context, page Page, target string) (Place, error) {
	if isURL(target) {
		if m := naverPlaceID.FindStringSubmatch(target); m != nil {
			return naverPlace(m[1], ""), nil
		}
		return Place{}, fmt.Errorf("%w: %s is not a naver place url", core.ErrResolution, target)
	}

	if err := page.Navigate(ctx, naverSearchURL+url.QueryEscape(target)); err != nil {
		return Place{}, err
	}

	// A single exact match redirects straight to the place page
	loc, err := page.Location(ctx)
	if err != nil {
		return Place{}, err
	}
	if strings.Contains(loc, naverPlaceHost) {
		if m := naverPlaceID.FindStringSubmatch(loc); m != nil {
			return naverPlace(m[1], ""), nil
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return Place{}, err
	}
	id, name, ok := firstNaverHit(html)
	if !ok {
		return Place{}, fmt.Errorf("%w: no naver place found for %q", core.ErrResolution, target)
	}
	return naverPlace(id, name), nil
}

func naverPlace(id, name string) Place {
	return Place{ID: id, Name: name, ReviewURL: fmt.Sprintf(naverReviewURL, id)}
}

func firstNaverHit(html string) (id, name string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", false
	}
	doc.Find(`a[href*="/place/"], a[href*="/restaurant/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if m := naverPlaceID.FindStringSubmatch(href); m != nil {
			id = m[1]
			name = strings.TrimSpace(s.Text())
			ok = true
			return false
		}
		return true
	})
	return id, name, ok
}

func (n *Naver) LoadMore(ctx context.Context, page Page) error {
	clicked, err := page.Click(ctx, "a, button", "더보기")
	if err != nil {
		return err
	}
	if clicked {
		return nil
	}
	return page.ScrollToBottom(ctx)
}

func (n *Naver) Parse(html string) ([]Entry, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse naver page: %w", err)
	}

	var entries []Entry
	doc.Find("ul > li").Each(func(_ int, s *goquery.Selection) {
		// keyword chips nested inside a card are part of that card
		if s.ParentsFiltered("li").Length() > 0 {
			return
		}
		text := blockText(s)
		if utf8.RuneCountInString(text) <= naverMinCardText {
			return
		}
		e := Entry{Text: text, Rating: parseRating(text)}
		if m := dotDate.FindString(text); m != "" {
			e.DateRaw = m
		}
		entries = append(entries, e)
	})
	return entries, metaTitle(doc), nil
}
