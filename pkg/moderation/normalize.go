package moderation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 上游历史上出现过三种响应形态：
//   (a) 扁平的 分类→分数 对象
//   (b) [分类, 分数] 二元组数组
//   (c) 携带布尔结论（flagged / categories）的对象，分数在 category_scores 里
// normalize 逐一尝试这三种形态，收敛到同一个 Outcome。
func (c *openAICompatibleClient) normalize(body []byte) Outcome {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return c.degraded(ReasonUnexpectedResponse, fmt.Errorf("empty response body"))
	}

	if strings.HasPrefix(trimmed, "[") {
		return c.normalizePairs([]byte(trimmed))
	}

	// 对象形态：优先识别带结论的结构（顶层或 results[0]）
	var flagged flaggedPayload
	if err := json.Unmarshal([]byte(trimmed), &flagged); err != nil {
		return c.degraded(ReasonParseError, err)
	}
	if len(flagged.Results) > 0 {
		return c.normalizeFlagged(flagged.Results[0])
	}
	if flagged.CategoryScores != nil {
		return c.normalizeFlagged(flagged.flaggedResult)
	}

	return c.normalizeFlatMap([]byte(trimmed))
}

type flaggedPayload struct {
	flaggedResult
	Results []flaggedResult `json:"results"`
}

type flaggedResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// normalizePairs 处理 [["hate", 0.9], ...] 形态。
func (c *openAICompatibleClient) normalizePairs(body []byte) Outcome {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(body, &pairs); err != nil {
		return c.degraded(ReasonParseError, err)
	}

	scores := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return c.degraded(ReasonUnexpectedResponse, fmt.Errorf("pair with %d elements", len(pair)))
		}
		var category string
		var score float64
		if err := json.Unmarshal(pair[0], &category); err != nil {
			return c.degraded(ReasonUnexpectedResponse, err)
		}
		if err := json.Unmarshal(pair[1], &score); err != nil {
			return c.degraded(ReasonUnexpectedResponse, err)
		}
		scores[canonicalCategory(category)] = score
	}
	return c.decideByScores(scores)
}

// normalizeFlatMap 处理 {"hate": 0.9, ...} 形态。
func (c *openAICompatibleClient) normalizeFlatMap(body []byte) Outcome {
	var raw map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return c.degraded(ReasonUnexpectedResponse, err)
	}
	scores := make(map[string]float64, len(raw))
	for category, score := range raw {
		scores[canonicalCategory(category)] = score
	}
	return c.decideByScores(scores)
}

// normalizeFlagged 处理携带上游结论的形态。上游自带结论时优先采信，
// 分数阈值作为补充判定，reason 区分二者各自是否命中。
func (c *openAICompatibleClient) normalizeFlagged(result flaggedResult) Outcome {
	scores := make(map[string]float64, len(result.CategoryScores))
	for category, score := range result.CategoryScores {
		scores[canonicalCategory(category)] = score
	}
	maxCategory, maxScore, safeScore, hasSafe := summarize(scores)

	categoryFlagged := false
	for _, hit := range result.Categories {
		if hit {
			categoryFlagged = true
			break
		}
	}

	modelFlagged := result.Flagged || categoryFlagged
	thresholdFlagged := maxScore >= c.cfg.Threshold ||
		(hasSafe && safeScore < 1-c.cfg.Threshold)

	flagged := result.Flagged
	catFlagged := categoryFlagged
	details := &Details{
		CategoryScores:  scores,
		MaxScore:        maxScore,
		MaxCategory:     maxCategory,
		Threshold:       c.cfg.Threshold,
		Flagged:         &flagged,
		CategoryFlagged: &catFlagged,
	}

	var reason string
	switch {
	case modelFlagged && thresholdFlagged:
		reason = fmt.Sprintf("flagged by both model and threshold: %s (%.2f)", maxCategory, maxScore)
	case modelFlagged:
		reason = fmt.Sprintf("flagged by model: %s (%.2f)", maxCategory, maxScore)
	case thresholdFlagged:
		reason = fmt.Sprintf("flagged by threshold: %s (%.2f)", maxCategory, maxScore)
	default:
		reason = ReasonOK
	}

	return Outcome{
		Blocked: modelFlagged || thresholdFlagged,
		Reason:  reason,
		Details: details,
	}
}

// decideByScores 在上游未给出结论时按分数判定：
// 最高分达到阈值，或显式的 safe 分数低于 1−threshold，即拦截。
func (c *openAICompatibleClient) decideByScores(scores map[string]float64) Outcome {
	maxCategory, maxScore, safeScore, hasSafe := summarize(scores)

	details := &Details{
		CategoryScores: scores,
		MaxScore:       maxScore,
		MaxCategory:    maxCategory,
		Threshold:      c.cfg.Threshold,
	}

	if maxScore >= c.cfg.Threshold {
		return Outcome{
			Blocked: true,
			Reason:  fmt.Sprintf("content flagged: %s (%.2f)", maxCategory, maxScore),
			Details: details,
		}
	}
	if hasSafe && safeScore < 1-c.cfg.Threshold {
		return Outcome{
			Blocked: true,
			Reason:  fmt.Sprintf("content flagged: low safe score (%.2f)", safeScore),
			Details: details,
		}
	}
	return Outcome{Reason: ReasonOK, Details: details}
}

// summarize 统计非 safe 分类中的最高分，并单独取出 safe 分数（若存在）。
func summarize(scores map[string]float64) (maxCategory string, maxScore, safeScore float64, hasSafe bool) {
	for category, score := range scores {
		if category == categorySafe {
			safeScore = score
			hasSafe = true
			continue
		}
		if maxCategory == "" || score > maxScore {
			maxCategory = category
			maxScore = score
		}
	}
	return maxCategory, maxScore, safeScore, hasSafe
}

const categorySafe = "safe"

// canonicalCatalog 把去掉分隔符后的小写键映射到规范分类名。
// 涵盖下划线、斜杠、空格三代键名惯例。
var canonicalCatalog = map[string]string{
	"violence":              "violence",
	"violencegraphic":       "violence/graphic",
	"sexual":                "sexual",
	"sexualminors":          "sexual/minors",
	"selfharm":              "self-harm",
	"selfharmintent":        "self-harm/intent",
	"selfharminstructions":  "self-harm/instructions",
	"hate":                  "hate",
	"hatethreatening":       "hate/threatening",
	"harassment":            "harassment",
	"harassmentthreatening": "harassment/threatening",
	"illicit":               "illicit",
	"illicitviolent":        "illicit/violent",
	"safe":                  categorySafe,
}

// canonicalCategory 大小写不敏感地折叠分类键：
// "Self_Harm/Intent"、"self harm intent"、"self-harm/intent" 都归一到同一个名字。
// 目录之外的分类保留小写原名，仍参与最高分统计。
func canonicalCategory(key string) string {
	folded := strings.ToLower(key)
	folded = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '/', ' ':
			return -1
		}
		return r
	}, folded)
	if canonical, ok := canonicalCatalog[folded]; ok {
		return canonical
	}
	return strings.ToLower(key)
}
