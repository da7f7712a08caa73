package persona

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"pulse/internal/core"
	"pulse/internal/insight"
)

const clusterPromptTemplate = `당신은 고객 경험(CX) 분석 전문가입니다. "%s"의 특정 고객 그룹(토픽 %d)을 분석하여 페르소나와 고객 여정 지도를 작성하세요.

## 분석 데이터
- 키워드: %s
- 그룹 비중: %.1f%%
- 그룹 리뷰 수: %d
- 평균 평점: %s
- 리뷰 샘플:
%s

%s`

const volumePromptTemplate = `당신은 고객 경험(CX) 분석 전문가입니다. "%s"는 리뷰가 적어 고객 그룹을 나눌 수 없습니다. 아래 전체 통계만으로 대표 고객 페르소나 1개를 작성하세요.

## 전체 통계
- 리뷰 수: %d
- 평균 평점: %s
- 평점 분포: %s
- 출처별 리뷰 수: %s
- 자주 언급된 단어: %s
- 리뷰 샘플:
%s

%s`

const outputInstruction = `## 출력 형식
다음 필드를 가진 JSON 객체 하나를 출력하세요.
- nickname: 그룹을 대표하는 별명 (예: 시원 국물파, 가성비 직장인)
- characteristics, preferences, goals, pain_points: 각각 짧은 문장의 배열 (최소 1개)
- tags: 특징 태그 3개
- summary: 이 그룹의 행동 패턴과 니즈를 한 문장으로 요약
- journey: explore, visit, eat, share 4단계 배열. 각 단계는 stage, label, action, thought, sentiment(good|neutral|pain), touchpoint, pain_point, opportunity
- action_recommendation: 가장 시급하게 실행할 개선 액션 (1~2문장)`

const strictInstruction = `

중요: 이전 응답은 형식이 올바르지 않았습니다. 설명이나 마크다운 코드 블록 없이 위 필드를 가진 유효한 JSON 객체만 출력하세요. characteristics, preferences, goals, pain_points는 반드시 비어 있지 않은 문자열 배열이어야 합니다.`

const summaryPromptTemplate = `당신은 음식점 리뷰 분석 전문가입니다. 다음은 "%s"의 분석 결과입니다.

[기본 정보]
- 평균 평점: %s/5.0
- 주요 키워드: %s

[실제 고객 리뷰]
%s

위 정보를 바탕으로 이 가게의 핵심 이미지를 한 문장으로 매력적으로 요약하세요.
(예: "매콤한 수제비가 인기인 가성비 좋은 맛집")
JSON 없이 텍스트만 출력하세요.`

func clusterPrompt(store StoreContext, c ClusterEvidence, share float64, cfg Config) string {
	return fmt.Sprintf(clusterPromptTemplate,
		store.Name,
		c.Cluster.ID,
		joinOrDash(c.Cluster.Keywords, 10),
		share,
		c.Cluster.Size(),
		formatRating(insight.Aggregate(c.Reviews)),
		sampleReviews(c.Reviews, cfg.SampleReviews, cfg.SampleChars),
		outputInstruction,
	)
}

func volumePrompt(store StoreContext, reviews []core.RawReview, cfg Config) string {
	return fmt.Sprintf(volumePromptTemplate,
		store.Name,
		store.Stats.Count,
		formatRating(store.Stats),
		formatDistribution(store.Stats.Distribution),
		formatCounts(store.Stats.SourceCounts),
		joinOrDash(store.Keywords, 10),
		sampleReviews(reviews, cfg.SampleReviews, cfg.SampleChars),
		outputInstruction,
	)
}

func summaryPrompt(store StoreContext, reviews []core.RawReview) string {
	return fmt.Sprintf(summaryPromptTemplate,
		store.Name,
		formatRating(store.Stats),
		joinOrDash(store.Keywords, 10),
		sampleReviews(reviews, 10, 100),
	)
}

func formatRating(s insight.Stats) string {
	if !s.HasRating() {
		return "정보 없음"
	}
	return fmt.Sprintf("%.1f", s.AverageRating)
}

func formatDistribution(d map[int]int) string {
	if len(d) == 0 {
		return "-"
	}
	var parts []string
	for stars := 5; stars >= 1; stars-- {
		if n := d[stars]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d점 %d개", stars, n))
		}
	}
	return strings.Join(parts, ", ")
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %d", name, counts[name])
	}
	return strings.Join(parts, ", ")
}

func joinOrDash(items []string, limit int) string {
	if len(items) == 0 {
		return "-"
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return strings.Join(items, ", ")
}

// sampleReviews lists up to n raw review bodies, each cut to maxChars runes
func sampleReviews(reviews []core.RawReview, n, maxChars int) string {
	var lines []string
	for _, r := range reviews {
		if len(lines) >= n {
			break
		}
		text := strings.TrimSpace(r.RawText)
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) > maxChars {
			text = string([]rune(text)[:maxChars])
		}
		rating := "N/A"
		if r.Rating != nil {
			rating = fmt.Sprintf("%d", *r.Rating)
		}
		lines = append(lines, fmt.Sprintf("- ★%s: %s", rating, text))
	}
	if len(lines) == 0 {
		return "- (없음)"
	}
	return strings.Join(lines, "\n")
}
