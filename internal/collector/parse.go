package collector

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html"
)

// Entry is one review card extracted from a page snapshot
type Entry struct {
	Text    string   // Card text with one line per text node
	Rating  *int     // Star rating when the card shows one
	DateRaw string   // Visit or post date as displayed
}

// blockText returns the text of a selection with text nodes on separate
// lines, keeping the card's visual line structure for boilerplate removal.
func blockText(sel *goquery.Selection) string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}

// metaTitle returns the og:title of a page, falling back to <title>
func metaTitle(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(v) != "" {
		return cleanTitle(v)
	}
	return cleanTitle(doc.Find("title").First().Text())
}

var titleSuffix = regexp.MustCompile(`\s*[:|-]\s*(네이버|카카오맵|Naver|Kakao).*$`)

func cleanTitle(s string) string {
	return strings.TrimSpace(titleSuffix.ReplaceAllString(strings.TrimSpace(s), ""))
}

var (
	dotDate    = regexp.MustCompile(`(\d{2,4})\.(\d{1,2})\.(\d{1,2})`)
	koreanDate = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)
)

// parseDate interprets the date formats review platforms display.
// Unparseable input yields nil.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if m := koreanDate.FindStringSubmatch(raw); m != nil {
		raw = m[1] + "-" + pad2(m[2]) + "-" + pad2(m[3])
	} else if m := dotDate.FindStringSubmatch(raw); m != nil {
		year := m[1]
		if len(year) == 2 {
			year = "20" + year
		}
		raw = year + "-" + pad2(m[2]) + "-" + pad2(m[3])
	}

	if t, err := time.ParseInLocation("2006-01-02", raw, kst); err == nil {
		return &t
	}
	if t, err := dateparse.ParseIn(raw, kst); err == nil {
		return &t
	}
	return nil
}

var kst = time.FixedZone("KST", 9*60*60)

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

var ratingPattern = regexp.MustCompile(`([1-5](?:\.\d)?)\s*(?:점|개)`)

// parseRating extracts a 1-5 rating from free text such as "별점 4점"
func parseRating(text string) *int {
	m := ratingPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return parseRatingValue(m[1])
}

// parseRatingValue reads a star value, dropping any fraction. Values outside
// 1-5 count as no rating.
func parseRatingValue(s string) *int {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	v := int(f)
	if v < 1 || v > 5 {
		return nil
	}
	return &v
}

// KeyPolicy builds the deduplication key of a review
type KeyPolicy func(source, rawText, dateRaw string) string

var collapseSpace = regexp.MustCompile(`\s+`)

// TextKey identifies a review by source and whitespace-collapsed body
func TextKey(source, rawText, _ string) string {
	return digest(source, collapseSpace.ReplaceAllString(strings.TrimSpace(rawText), " "))
}

// TextDateKey additionally distinguishes identical bodies posted on different dates
func TextDateKey(source, rawText, dateRaw string) string {
	return digest(source, collapseSpace.ReplaceAllString(strings.TrimSpace(rawText), " "), strings.TrimSpace(dateRaw))
}

// KeyPolicyByName maps the collector.dedup_key setting to a policy
func KeyPolicyByName(name string) KeyPolicy {
	if name == "text_date" {
		return TextDateKey
	}
	return TextKey
}

func digest(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
