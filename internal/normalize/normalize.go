// Package normalize turns review bodies into the canonical token form used
// for clustering and deduplication.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// MinTokenRunes is the shortest token kept in normalized text
const MinTokenRunes = 2

// suffixes are particles and polite endings stripped from the end of a token.
// Longer entries come first so the longest match wins.
var suffixes = []string{
	"했었어요", "했습니다", "합니다", "입니다", "습니다", "었어요", "았어요", "했어요",
	"에서는", "에서도", "으로는", "에게서", "이라도", "까지는", "부터는", "이에요", "예요",
	"에서", "에게", "한테", "으로", "이랑", "까지", "부터", "처럼", "보다", "하고", "이나",
	"라도", "해요", "어요", "아요", "네요", "는데", "지만", "이고", "이라", "했다", "이다",
	"은", "는", "이", "가", "을", "를", "의", "도", "만", "로", "와", "과", "에", "랑", "요",
}

var stopwords = buildSet(
	// platform chrome
	"리뷰", "사진", "팔로우", "팔로워", "방문", "예약", "이용", "대기", "시간", "입장",
	"반응", "인증", "수단", "영수증", "결제", "내역", "키워드", "조회", "업체", "장소",
	"테마", "리스트", "선택", "인원",
	// dates and visit context
	"월요일", "화요일", "수요일", "목요일", "금요일", "토요일", "일요일",
	"번째", "저녁", "점심", "아침", "오전", "오후", "일상", "친목", "데이트", "나들이",
	"혼자", "친구", "가족", "연인", "배우자", "아이", "동료",
	// function words
	"있다", "있습니다", "없다", "하다", "합니다", "이다", "입니다", "위해", "통해",
	"하나", "가지", "그리고", "근데", "정말", "진짜", "너무", "아주", "조금", "그냥",
	"the", "and", "for", "with", "was", "are", "this", "that",
)

func buildSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var lower = cases.Lower(language.Und)

// Normalize canonicalizes raw review text: Unicode NFKC, lower case,
// punctuation removed, particles stripped, stopwords and short tokens dropped.
// It is pure and idempotent. An empty result means the text carries no
// usable content.
func Normalize(raw string) string {
	s := norm.NFKC.String(raw)
	s = lower.String(s)
	s = norm.NFKC.String(s)

	tokens := Tokenize(s)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = stripSuffixes(tok)
		if !keep(tok) {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// Tokenize splits on every rune that is not a letter, digit or combining mark
func Tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsMark(r)
	})
}

// stripSuffixes removes trailing particles until no suffix can be removed
// while leaving a stem of at least MinTokenRunes runes.
func stripSuffixes(tok string) string {
	for {
		stripped := false
		for _, suf := range suffixes {
			if !strings.HasSuffix(tok, suf) {
				continue
			}
			stem := strings.TrimSuffix(tok, suf)
			if utf8.RuneCountInString(stem) < MinTokenRunes {
				continue
			}
			tok = stem
			stripped = true
			break
		}
		if !stripped {
			return tok
		}
	}
}

func keep(tok string) bool {
	if utf8.RuneCountInString(tok) < MinTokenRunes {
		return false
	}
	if _, stop := stopwords[tok]; stop {
		return false
	}
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Tokens returns the tokens of already normalized text
func Tokens(text string) []string {
	return strings.Fields(text)
}
