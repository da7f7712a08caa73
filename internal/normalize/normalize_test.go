package normalize

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"particles and polite endings", "음식이 정말 맛있어요!!", "음식 맛있"},
		{"mixed endings", "분위기가 좋고 친절해요", "분위기 좋고 친절"},
		{"latin case folding", "Great PASTA, great!", "great pasta great"},
		{"fullwidth digits dropped", "１２３ 맛집", "맛집"},
		{"only chrome words", "사진 3 리뷰", ""},
		{"whitespace only", "   \n\t ", ""},
		{"single rune tokens dropped", "a b c 좋", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"음식이 정말 맛있어요!!",
		"사장님이 친절하시고 김치찌개가 최고였습니다 ㅎㅎ",
		"Great PASTA, great! 파스타는 별로였어요...",
		"주차장에서는 좀 불편했었어요 ~~ 그래도 재방문 의사 있음",
		"ｆｕｌｌｗｉｄｔｈ ＴＥＸＴ 와 ㄱㄴㄷ",
		"café naïve résumé",
		"",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	in := "가성비 좋은 국밥집이에요. 국물이 진해요!"
	first := Normalize(in)
	for i := 0; i < 10; i++ {
		if got := Normalize(in); got != first {
			t.Fatalf("Normalize returned %q then %q", first, got)
		}
	}
}

func TestNormalizeOutputShape(t *testing.T) {
	out := Normalize("  여러   공백과\t탭,  구두점!?  ")
	if strings.Contains(out, "  ") || strings.HasPrefix(out, " ") || strings.HasSuffix(out, " ") {
		t.Errorf("expected single-spaced output, got %q", out)
	}
	for _, r := range "!?,." {
		if strings.ContainsRune(out, r) {
			t.Errorf("expected punctuation %q to be removed from %q", r, out)
		}
	}
}

func TestStripBoilerplate(t *testing.T) {
	raw := strings.Join([]string{
		"맛집탐방러",
		"리뷰 56",
		"사진 12",
		"팔로워 3",
		"점심에 방문",
		"데이트",
		"면이 쫄깃하고 국물이 깊어요.",
		"친구랑 왔는데 다음엔 가족이랑 오고 싶네요",
		"\"음식이 맛있어요\"",
		"+3",
		"2024년 3월 2일 토요일",
		"1번째 방문",
		"영수증",
		"더보기",
		"42",
		"반응 남기기",
	}, "\n")

	got := StripBoilerplate(raw)
	want := "맛집탐방러 면이 쫄깃하고 국물이 깊어요. 친구랑 왔는데 다음엔 가족이랑 오고 싶네요"
	if got != want {
		t.Errorf("StripBoilerplate() = %q, want %q", got, want)
	}
}

func TestStripBoilerplateSymbolRuns(t *testing.T) {
	got := StripBoilerplate("정말 맛있어요~~~ 또 올게요\n\n서비스 최고++")
	if got != "정말 맛있어요 또 올게요 서비스 최고" {
		t.Errorf("unexpected result %q", got)
	}
}
