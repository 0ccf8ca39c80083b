// Package oracle is the LLM boundary: request in, text out. Callers extract
// and validate structured content themselves; the client only guarantees
// timeouts, model fallback, and spend accounting.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/pkg/telemetry"
)

// SpendRecorder receives the cost of every completed call. The store
// implements it; Gate 14 reads what it accumulates.
type SpendRecorder interface {
	AddSpend(ctx context.Context, stage, model string, costUSD float64) error
}

// chatAPI is the slice of the OpenAI client the oracle uses. Tests stub it.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client implements core.IOracle over an OpenAI-compatible chat endpoint.
type Client struct {
	api           chatAPI
	defaultModel  string
	fallbackModel string
	timeout       time.Duration
	inCostPer1K   decimal.Decimal
	outCostPer1K  decimal.Decimal
	spend         SpendRecorder
	logger        core.ILogger
}

// NewClient builds the production client from config. A custom base URL
// points the same wire protocol at a local or proxy endpoint.
func NewClient(cfg config.OracleConfig, spend SpendRecorder, logger core.ILogger) *Client {
	apiCfg := openai.DefaultConfig(string(cfg.APIKey))
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return NewClientWithAPI(openai.NewClientWithConfig(apiCfg), cfg, spend, logger)
}

// NewClientWithAPI builds a client over an existing chat API. Tests pass a
// scripted stub.
func NewClientWithAPI(api chatAPI, cfg config.OracleConfig, spend SpendRecorder, logger core.ILogger) *Client {
	return &Client{
		api:           api,
		defaultModel:  cfg.Model,
		fallbackModel: cfg.FallbackModel,
		timeout:       cfg.RequestTimeout(),
		inCostPer1K:   decimal.NewFromFloat(cfg.InputCostPer1K),
		outCostPer1K:  decimal.NewFromFloat(cfg.OutputCostPer1K),
		spend:         spend,
		logger:        logger.WithField("component", "oracle"),
	}
}

// Complete runs one prompt pair against the requested model, falling back to
// the configured fallback model on failure. Each attempt gets the full
// per-call timeout; the caller's context still caps the whole operation.
func (c *Client) Complete(ctx context.Context, req core.OracleRequest) (*core.OracleResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	resp, err := c.call(ctx, model, req)
	if err != nil && c.fallbackModel != "" && c.fallbackModel != model && ctx.Err() == nil {
		c.logger.Warn("oracle call failed, trying fallback model",
			"stage", req.Stage, "model", model, "fallback", c.fallbackModel, "error", err)
		resp, err = c.call(ctx, c.fallbackModel, req)
	}
	if err != nil {
		return nil, err
	}

	if c.spend != nil {
		cost, _ := resp.CostUSD.Float64()
		if serr := c.spend.AddSpend(ctx, req.Stage, resp.Model, cost); serr != nil {
			c.logger.Warn("failed to record oracle spend",
				"stage", req.Stage, "cost_usd", resp.CostUSD.String(), "error", serr)
		}
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, model string, req core.OracleRequest) (*core.OracleResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: 0.2,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	chatResp, err := c.api.CreateChatCompletion(callCtx, chatReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("oracle %s call failed: %w", req.Stage, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("oracle %s call returned no choices", req.Stage)
	}

	cost := c.costOf(chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens)
	costF, _ := cost.Float64()
	telemetry.GetGlobalMetrics().IncLLMCall(ctx, req.Stage, model, costF)

	c.logger.Debug("oracle call completed",
		"stage", req.Stage,
		"model", model,
		"input_tokens", chatResp.Usage.PromptTokens,
		"output_tokens", chatResp.Usage.CompletionTokens,
		"cost_usd", cost.StringFixed(6),
		"latency_ms", latency.Milliseconds())

	return &core.OracleResponse{
		Text:         chatResp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
		CostUSD:      cost,
		Latency:      latency,
	}, nil
}

func (c *Client) costOf(inputTokens, outputTokens int) decimal.Decimal {
	per1K := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(int64(inputTokens)).Mul(c.inCostPer1K).Div(per1K)
	out := decimal.NewFromInt(int64(outputTokens)).Mul(c.outCostPer1K).Div(per1K)
	return in.Add(out)
}
