package collector

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pulse/internal/core"
)

const (
	KakaoName      = "kakao"
	kakaoSearchURL = "https://m.map.kakao.com/actions/searchView?q="
	kakaoReviewURL = "https://place.map.kakao.com/%s#review"
)

var kakaoPlaceID = regexp.MustCompile(`place\.map\.kakao\.com/(?:m/)?(\d+)`)

// Kakao crawls reviews from Kakao Map place pages
type Kakao struct{}

func NewKakao() *Kakao { return &Kakao{} }

func (k *Kakao) Name() string { return KakaoName }

func (k *Kakao) Resolve(ctx context.Context, page Page, target string) (Place, error) {
	if isURL(target) {
		if m := kakaoPlaceID.FindStringSubmatch(target); m != nil {
			return kakaoPlace(m[1], ""), nil
		}
		return Place{}, fmt.Errorf("%w: %s is not a kakao place url", core.ErrResolution, target)
	}

	if err := page.Navigate(ctx, kakaoSearchURL+url.QueryEscape(target)); err != nil {
		return Place{}, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return Place{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Place{}, fmt.Errorf("failed to parse kakao search page: %w", err)
	}
	hit := doc.Find("li[data-id]").First()
	id, _ := hit.Attr("data-id")
	if strings.TrimSpace(id) == "" {
		return Place{}, fmt.Errorf("%w: no kakao place found for %q", core.ErrResolution, target)
	}
	name, _ := hit.Attr("data-title")
	if name == "" {
		name = strings.TrimSpace(hit.Find(".tit_g, strong").First().Text())
	}
	return kakaoPlace(strings.TrimSpace(id), name), nil
}

func kakaoPlace(id, name string) Place {
	return Place{ID: id, Name: name, ReviewURL: fmt.Sprintf(kakaoReviewURL, id)}
}

func (k *Kakao) LoadMore(ctx context.Context, page Page) error {
	clicked, err := page.Click(ctx, "a.link_more", "후기 더보기")
	if err != nil {
		return err
	}
	if clicked {
		return nil
	}
	return page.ScrollToBottom(ctx)
}

func (k *Kakao) Parse(html string) ([]Entry, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse kakao page: %w", err)
	}

	var entries []Entry
	doc.Find("ul.list_review > li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(strings.ReplaceAll(s.Find("p.desc_review").Text(), "더보기", ""))
		if text == "" {
			return
		}
		e := Entry{
			Text:    text,
			DateRaw: strings.TrimSpace(s.Find(".txt_date").First().Text()),
		}
		s.Find(".starred_grade .screen_out").EachWithBreak(func(_ int, r *goquery.Selection) bool {
			if v := parseRatingValue(r.Text()); v != nil {
				e.Rating = v
				return false
			}
			return true
		})
		entries = append(entries, e)
	})
	return entries, metaTitle(doc), nil
}
