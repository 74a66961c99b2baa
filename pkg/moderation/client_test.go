package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safechat-go/internal/config"
)

// newTestClient 启动一个假的上游并返回指向它的客户端。
func newTestClient(t *testing.T, cfg config.ModerationConfig, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	c := NewClient(cfg)
	t.Cleanup(c.Close)
	return c
}

func respondJSON(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/moderations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestClassifyFlatMapBelowThreshold(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{"hate": 0.2, "violence": 0.1}`))

	out := c.Classify(context.Background(), "hello there")

	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonOK, out.Reason)
	require.NotNil(t, out.Details)
	assert.Equal(t, "hate", out.Details.MaxCategory)
	assert.InDelta(t, 0.2, out.Details.MaxScore, 1e-9)
	assert.InDelta(t, 0.5, out.Details.Threshold, 1e-9)
}

func TestClassifyFlatMapAboveThreshold(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{"hate": 0.91, "violence": 0.3}`))

	out := c.Classify(context.Background(), "bad text")

	assert.True(t, out.Blocked)
	assert.Equal(t, "content flagged: hate (0.91)", out.Reason)
	assert.Equal(t, "hate", out.Details.MaxCategory)
}

func TestClassifyPairsShape(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `[["Hate", 0.7], ["violence", 0.1]]`))

	out := c.Classify(context.Background(), "bad text")

	assert.True(t, out.Blocked)
	assert.Equal(t, "hate", out.Details.MaxCategory)
	assert.InDelta(t, 0.7, out.Details.CategoryScores["hate"], 1e-9)
}

func TestClassifyFlaggedShapeModelAndThreshold(t *testing.T) {
	body := `{"results": [{"flagged": true, "categories": {"hate": true},
		"category_scores": {"hate": 0.95, "violence": 0.1}}]}`
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5}, respondJSON(t, body))

	out := c.Classify(context.Background(), "bad text")

	assert.True(t, out.Blocked)
	assert.Equal(t, "flagged by both model and threshold: hate (0.95)", out.Reason)
	require.NotNil(t, out.Details.Flagged)
	assert.True(t, *out.Details.Flagged)
	require.NotNil(t, out.Details.CategoryFlagged)
	assert.True(t, *out.Details.CategoryFlagged)
}

func TestClassifyFlaggedShapeModelOnly(t *testing.T) {
	// 上游判定 flagged 但分数都低于阈值：仍然拦截
	body := `{"results": [{"flagged": true, "categories": {},
		"category_scores": {"hate": 0.2}}]}`
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5}, respondJSON(t, body))

	out := c.Classify(context.Background(), "bad text")

	assert.True(t, out.Blocked)
	assert.Equal(t, "flagged by model: hate (0.20)", out.Reason)
}

func TestClassifyFlaggedShapeThresholdOnly(t *testing.T) {
	body := `{"results": [{"flagged": false, "categories": {"hate": false},
		"category_scores": {"hate": 0.8}}]}`
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5}, respondJSON(t, body))

	out := c.Classify(context.Background(), "bad text")

	assert.True(t, out.Blocked)
	assert.Equal(t, "flagged by threshold: hate (0.80)", out.Reason)
}

func TestClassifyFlaggedShapeTopLevelScores(t *testing.T) {
	// 没有 results 包裹、分数直接在顶层的变体
	body := `{"flagged": false, "categories": {}, "category_scores": {"violence": 0.1}}`
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5}, respondJSON(t, body))

	out := c.Classify(context.Background(), "fine text")

	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonOK, out.Reason)
}

func TestClassifyLowSafeScoreBlocks(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{"safe": 0.3, "hate": 0.1}`))

	out := c.Classify(context.Background(), "sus text")

	assert.True(t, out.Blocked)
	assert.Equal(t, "content flagged: low safe score (0.30)", out.Reason)
	// safe 不参与最高分统计
	assert.Equal(t, "hate", out.Details.MaxCategory)
}

func TestClassifyHighSafeScorePasses(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{"safe": 0.97, "hate": 0.02}`))

	out := c.Classify(context.Background(), "nice text")
	assert.False(t, out.Blocked)
}

func TestCanonicalCategoryFolding(t *testing.T) {
	cases := map[string]string{
		"Self_Harm/Intent":       "self-harm/intent",
		"self harm intent":       "self-harm/intent",
		"self-harm/intent":       "self-harm/intent",
		"HARASSMENT_THREATENING": "harassment/threatening",
		"sexual/minors":          "sexual/minors",
		"Violence-Graphic":       "violence/graphic",
		"SAFE":                   "safe",
		// 目录之外的键保留小写原名
		"Custom_Category": "custom_category",
	}
	for key, want := range cases {
		assert.Equal(t, want, canonicalCategory(key), "key %q", key)
	}
}

func TestClassifyUnknownCategoryStillCounts(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{"custom_risk": 0.99}`))

	out := c.Classify(context.Background(), "text")

	assert.True(t, out.Blocked)
	assert.Equal(t, "custom_risk", out.Details.MaxCategory)
}

func TestClassifyEmptyInputSkipsUpstream(t *testing.T) {
	var calls int32
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		})

	out := c.Classify(context.Background(), "   \n\t")

	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonOK, out.Reason)
	assert.Zero(t, atomic.LoadInt32(&calls), "blank input must not reach upstream")
}

func TestClassifyDegradesOnConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // 立刻关掉，制造连接错误

	c := NewClient(config.ModerationConfig{BaseURL: srv.URL, Threshold: 0.5})
	defer c.Close()

	out := c.Classify(context.Background(), "text")

	assert.False(t, out.Blocked, "degrade open: upstream failure must not block")
	assert.Equal(t, ReasonAPIError, out.Reason)
}

func TestClassifyDegradesOnNon200(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

	out := c.Classify(context.Background(), "text")

	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonAPIError, out.Reason)
}

func TestClassifyDegradesOnInvalidJSON(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{not valid json`))

	out := c.Classify(context.Background(), "text")

	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonParseError, out.Reason)
}

func TestClassifyDegradesOnUnexpectedShape(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{"hate": "not-a-number"}`))

	out := c.Classify(context.Background(), "text")

	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonUnexpectedResponse, out.Reason)
}

func TestClassifySendsSafetySetting(t *testing.T) {
	var captured moderationRequest
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5, Model: "omni-moderation-latest"},
		func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			_, _ = w.Write([]byte(`{"hate": 0.1}`))
		})

	c.Classify(context.Background(), "text")

	assert.Equal(t, "omni-moderation-latest", captured.Model)
	assert.Equal(t, "text", captured.Input)
	// threshold 0.5 推导出 0.1 − 0.5×0.095 = 0.0525
	assert.InDelta(t, 0.0525, captured.SafetySetting, 1e-9)
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := newTestClient(t, config.ModerationConfig{Threshold: 0.5},
		respondJSON(t, `{"hate": 0.8}`))

	first := c.Classify(context.Background(), "text")
	second := c.Classify(context.Background(), "text")

	assert.Equal(t, first.Blocked, second.Blocked)
	assert.Equal(t, first.Reason, second.Reason)
}

func TestSafetyParamDerivedFromThreshold(t *testing.T) {
	c := NewClient(config.ModerationConfig{Threshold: 0.5})
	assert.InDelta(t, 0.0525, c.SafetyParam(), 1e-9)
}

func TestSafetyParamOverrideWins(t *testing.T) {
	c := NewClient(config.ModerationConfig{Threshold: 0.5, SafetyParam: 0.08})
	assert.InDelta(t, 0.08, c.SafetyParam(), 1e-9)
}

func TestSafetyParamClamped(t *testing.T) {
	// 阈值 1.0 推导出 0.005，正好落在下界
	low := NewClient(config.ModerationConfig{Threshold: 1.0})
	assert.InDelta(t, 0.005, low.SafetyParam(), 1e-9)

	// 显式指定超出上界时被夹回 0.1
	high := NewClient(config.ModerationConfig{SafetyParam: 0.5})
	assert.InDelta(t, 0.1, high.SafetyParam(), 1e-9)

	// 显式指定低于下界时被夹回 0.005
	tiny := NewClient(config.ModerationConfig{SafetyParam: 0.001})
	assert.InDelta(t, 0.005, tiny.SafetyParam(), 1e-9)
}
