package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/mock"
	apperrors "sanadbot/pkg/errors"
)

type stubChatAPI struct {
	mu        sync.Mutex
	responses map[string]string // keyed by model; "" key is the default
	failModel string
	calls     []openai.ChatCompletionRequest
}

func (s *stubChatAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if req.Model == s.failModel {
		return openai.ChatCompletionResponse{}, errors.New("model overloaded")
	}
	text, ok := s.responses[req.Model]
	if !ok {
		text = s.responses[""]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
		Usage: openai.Usage{PromptTokens: 1000, CompletionTokens: 500},
	}, nil
}

type spendSink struct {
	mu      sync.Mutex
	total   float64
	entries int
}

func (s *spendSink) AddSpend(ctx context.Context, stage, model string, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += costUSD
	s.entries++
	return nil
}

func testOracleConfig() config.OracleConfig {
	return config.OracleConfig{
		Model:                 "main-model",
		FallbackModel:         "backup-model",
		RequestTimeoutSeconds: 5,
		InputCostPer1K:        0.001,
		OutputCostPer1K:       0.002,
	}
}

func TestCompleteRecordsSpendAndCost(t *testing.T) {
	api := &stubChatAPI{responses: map[string]string{"": `{"ok":true}`}}
	sink := &spendSink{}
	c := NewClientWithAPI(api, testOracleConfig(), sink, mock.NewLogger())

	resp, err := c.Complete(context.Background(), core.OracleRequest{Stage: StageSanad})
	require.NoError(t, err)
	assert.Equal(t, "main-model", resp.Model)
	// 1000 input @ 0.001/1K + 500 output @ 0.002/1K = 0.001 + 0.001
	assert.Equal(t, "0.002", resp.CostUSD.String())
	assert.Equal(t, 1, sink.entries)
	assert.InDelta(t, 0.002, sink.total, 1e-9)
}

func TestCompleteFallsBackOnPrimaryFailure(t *testing.T) {
	api := &stubChatAPI{
		responses: map[string]string{"backup-model": `{"ok":true}`},
		failModel: "main-model",
	}
	c := NewClientWithAPI(api, testOracleConfig(), nil, mock.NewLogger())

	resp, err := c.Complete(context.Background(), core.OracleRequest{Stage: StageBull})
	require.NoError(t, err)
	assert.Equal(t, "backup-model", resp.Model)
	assert.Len(t, api.calls, 2)
}

func TestCompleteHonorsExplicitModel(t *testing.T) {
	api := &stubChatAPI{responses: map[string]string{"judge-xl": `{"v":1}`}}
	c := NewClientWithAPI(api, testOracleConfig(), nil, mock.NewLogger())

	resp, err := c.Complete(context.Background(), core.OracleRequest{Stage: StageJudge, Model: "judge-xl"})
	require.NoError(t, err)
	assert.Equal(t, "judge-xl", resp.Model)
	require.Len(t, api.calls, 1)
	assert.Equal(t, "judge-xl", api.calls[0].Model)
}

func TestCompleteNoFallbackAfterContextCancel(t *testing.T) {
	api := &stubChatAPI{failModel: "main-model", responses: map[string]string{}}
	c := NewClientWithAPI(api, testOracleConfig(), nil, mock.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, core.OracleRequest{Stage: StageBear})
	require.Error(t, err)
	assert.Len(t, api.calls, 1, "canceled context must not burn a fallback call")
}

func TestExtractJSONFromFencedOutput(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"trust_score\": 72, \"grade\": \"HASAN\"}\n```\nHope that helps!"
	var out struct {
		TrustScore int    `json:"trust_score"`
		Grade      string `json:"grade"`
	}
	require.NoError(t, ExtractJSON(text, &out))
	assert.Equal(t, 72, out.TrustScore)
	assert.Equal(t, "HASAN", out.Grade)
}

func TestExtractJSONHandlesNestedAndStrings(t *testing.T) {
	text := `prefix {"a": {"b": "close brace } inside string", "c": [1,2]}, "d": "x"} suffix`
	var out map[string]interface{}
	require.NoError(t, ExtractJSON(text, &out))
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "d")
}

func TestExtractJSONRejectsProseOnly(t *testing.T) {
	var out map[string]interface{}
	err := ExtractJSON("I cannot answer that as JSON.", &out)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestParseSanadValidatesRange(t *testing.T) {
	rep, err := ParseSanad(`{"trust_score": 64, "grade": "HASAN", "corroboration": "MASHHUR",
		"rugpull_flags": [], "sybil_risk": "low", "recommendation": "PROCEED"}`)
	require.NoError(t, err)
	assert.Equal(t, 64, rep.TrustScore)
	assert.Equal(t, "LOW", rep.SybilRisk)

	_, err = ParseSanad(`{"trust_score": 130}`)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestParseArgumentChecksSide(t *testing.T) {
	arg, err := ParseArgument(`{"side":"bull","conviction":70,"thesis":"up only","evidence":{"liquidity":"deep"}}`, "BULL")
	require.NoError(t, err)
	assert.Equal(t, "BULL", arg.Side)
	assert.Equal(t, 70, arg.Conviction)

	_, err = ParseArgument(`{"side":"BULL","conviction":70}`, "BEAR")
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestParseJudgeValidatesVerdict(t *testing.T) {
	v, err := ParseJudge(`{"verdict":"revise","confidence":55,"reasoning":"size down"}`)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictRevise, v.Verdict)

	_, err = ParseJudge(`{"verdict":"MAYBE","confidence":55}`)
	assert.ErrorIs(t, err, apperrors.ErrParse)

	_, err = ParseJudge(`{"verdict":"APPROVE","confidence":101}`)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestRequiredEvidenceFieldsPerTier(t *testing.T) {
	for _, tier := range []core.Tier{core.Tier1, core.Tier2, core.Tier3, core.TierWhale} {
		assert.Len(t, RequiredEvidenceFields(tier), 3, string(tier))
	}
	assert.Nil(t, RequiredEvidenceFields(core.TierSkip))
}

func TestDebatePromptUsesTierFraming(t *testing.T) {
	sig := &core.Signal{Token: "PEPE", Chain: "ethereum", Thesis: "volume spike"}
	req := DebatePrompt("BEAR", core.Tier3, sig, "{}")
	assert.Equal(t, StageBear, req.Stage)
	assert.Contains(t, req.UserPrompt, "on-chain forensics")
	assert.Contains(t, req.UserPrompt, "AGAINST")

	req = DebatePrompt("BULL", core.TierWhale, sig, "{}")
	assert.Equal(t, StageBull, req.Stage)
	assert.Contains(t, req.UserPrompt, "smart-money")
}

func TestClientTimeoutBoundsCall(t *testing.T) {
	cfg := testOracleConfig()
	cfg.RequestTimeoutSeconds = 1
	blocker := &blockingAPI{}
	c := NewClientWithAPI(blocker, cfg, nil, mock.NewLogger())

	start := time.Now()
	_, err := c.Complete(context.Background(), core.OracleRequest{Stage: StageSanad, Model: "main-model"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type blockingAPI struct{}

func (b *blockingAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	<-ctx.Done()
	return openai.ChatCompletionResponse{}, ctx.Err()
}
