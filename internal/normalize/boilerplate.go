package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// noiseLines match UI chrome that review platforms render inside a review card
var noiseLines = []*regexp.Regexp{
	regexp.MustCompile(`^리뷰\s+\d+`),
	regexp.MustCompile(`^사진\s+\d+`),
	regexp.MustCompile(`팔로워?\s+\d+`),
	regexp.MustCompile(`^\d+\s*팔로우`),
	regexp.MustCompile(`방문일\s+\d+\.\d+\.`),
	regexp.MustCompile(`\d{4}년\s+\d{1,2}월\s+\d{1,2}일`),
	regexp.MustCompile(`[일월화수목금토]요일`),
	regexp.MustCompile(`\d+번째\s+방문`),
	regexp.MustCompile(`인증\s+수단`),
	regexp.MustCompile(`영수증|결제내역`),
	regexp.MustCompile(`더\s*보기`),
	regexp.MustCompile(`펼쳐보기`),
	regexp.MustCompile(`반응\s+남기기`),
	regexp.MustCompile(`개의\s+리뷰가\s+더\s+있습니다`),
	regexp.MustCompile(`^\s*[+※]\d+\s*$`),
	regexp.MustCompile(`예약\s+없이\s+이용`),
	regexp.MustCompile(`대기\s+시간\s+바로\s+입장`),
	regexp.MustCompile(`[저점]심에?\s+방문`),
	regexp.MustCompile(`@\w+`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^\d{2,4}\.\d{1,2}\.\d{1,2}\.?\s*[일월화수목금토]?$`),
}

// tagLines are visit-context chips ("데이트", "친구"). They only count as noise
// on short lines so that real sentences mentioning a friend survive.
var tagLines = regexp.MustCompile(`일상|친목|데이트|나들이|혼자|연인・배우자|친구|가족|아이`)

const maxTagLineRunes = 12

// keywordChips are the platform's canned keyword reviews, rendered in quotes
var keywordChips = []string{"음식이 맛있어요", "매장이 청결해요", "친절해요", "가성비가 좋아요"}

var (
	symbolRuns = regexp.MustCompile(`[+※~]{2,}`)
	spaceRuns  = regexp.MustCompile(`\s+`)
)

// StripBoilerplate removes platform UI lines from a scraped review card and
// joins what is left into a single line of review body.
func StripBoilerplate(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNoiseLine(line) {
			continue
		}
		if utf8.RuneCountInString(line) <= 3 {
			continue
		}
		kept = append(kept, line)
	}

	text := strings.Join(kept, " ")
	text = symbolRuns.ReplaceAllString(text, "")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func isNoiseLine(line string) bool {
	for _, re := range noiseLines {
		if re.MatchString(line) {
			return true
		}
	}
	if utf8.RuneCountInString(line) <= maxTagLineRunes && tagLines.MatchString(line) {
		return true
	}
	if strings.HasPrefix(line, `"`) {
		for _, chip := range keywordChips {
			if strings.Contains(line, chip) {
				return true
			}
		}
	}
	return false
}
