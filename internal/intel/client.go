// Package intel 封装对外部文本生成端点的调用。
//
// 每个功能方法负责：渲染提示词 → 发起请求 → 从自由文本中抽取 JSON →
// 反序列化为该功能的结果类型。所有错误对调用方的循环都是非致命的。
package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"cartsentry/internal/model"
	"cartsentry/internal/pkg/metrics"

	"github.com/google/uuid"
)

// DefaultTimeout 单次请求的超时上限。
const DefaultTimeout = 30 * time.Second

// BatchSize 批量价格预测单个提示词覆盖的商品数上限。
const BatchSize = 10

// Config 智能分析客户端配置。
type Config struct {
	APIKey      string        // 凭证，经 HTTP 头传递
	BaseURL     string        // 文本生成端点
	Model       string        // 模型名
	MaxTokens   int           // 响应 token 上限
	Temperature float64       // 采样温度
	Timeout     time.Duration // 请求超时，0 表示 DefaultTimeout
}

// Client 是文本生成端点的 HTTP 客户端。
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 创建客户端。
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// 端点的请求/响应线格式。
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type contentBlock struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type chatResponse struct {
	Content []contentBlock  `json:"content"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// request 发送单条提示词并返回模型的原始文本响应。
func (c *Client) request(ctx context.Context, feature, prompt string) (string, error) {
	text, err := c.doRequest(ctx, prompt)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IntelRequestsTotal.WithLabelValues(feature, status).Inc()
	return text, err
}

func (c *Client) doRequest(ctx context.Context, prompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}
	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", ErrInvalidEndpoint
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", &EncodingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", &EncodingError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()
	metrics.IntelRequestDuration.Observe(time.Since(start).Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &RemoteError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var envelope chatResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(envelope.Content) == 0 || envelope.Content[0].Text == "" {
		return "", ErrInvalidEnvelope
	}

	c.logger.Debug("intel response received",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(respBody)))
	return envelope.Content[0].Text, nil
}

// decode 抽取 JSON 负载并反序列化到 dest。
func decode(feature, text string, dest any) error {
	payload := ExtractJSON(text)
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return &ParseError{Detail: feature + " result", Err: err}
	}
	return nil
}

// PredictPrice 请求单个商品的价格预测。
func (c *Client) PredictPrice(ctx context.Context, product model.TrackedProduct) (*PricePrediction, error) {
	text, err := c.request(ctx, "predict_price", renderPredictPrompt(product))
	if err != nil {
		return nil, err
	}
	var result PricePrediction
	if err := decode("predict_price", text, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchPredictPrices 以一条提示词请求最多 BatchSize 个商品的价格预测。
//
// 响应条目优先按显式 index 字段回关联到源商品，缺失时按位置回退；
// 条目数少于请求数不视为错误，未匹配到的商品本轮就没有预测结果。
func (c *Client) BatchPredictPrices(ctx context.Context, products []model.TrackedProduct) (map[uuid.UUID]PricePrediction, error) {
	if len(products) == 0 {
		return map[uuid.UUID]PricePrediction{}, nil
	}
	if len(products) > BatchSize {
		products = products[:BatchSize]
	}

	text, err := c.request(ctx, "batch_predict", renderBatchPredictPrompt(products))
	if err != nil {
		return nil, err
	}

	var entries []PricePrediction
	if err := decode("batch_predict", text, &entries); err != nil {
		return nil, err
	}

	results := make(map[uuid.UUID]PricePrediction, len(entries))
	for pos, entry := range entries {
		idx := pos
		if entry.Index != nil && *entry.Index >= 0 && *entry.Index < len(products) {
			idx = *entry.Index
		}
		if idx >= len(products) {
			c.logger.Warn("batch prediction entry out of range",
				slog.Int("position", pos),
				slog.Int("products", len(products)))
			continue
		}
		results[products[idx].ID] = entry
	}
	return results, nil
}

// EvaluateDeal 请求对一条促销的评估。
func (c *Client) EvaluateDeal(ctx context.Context, deal model.DealRecord) (*DealEvaluation, error) {
	text, err := c.request(ctx, "evaluate_deal", renderDealPrompt(deal))
	if err != nil {
		return nil, err
	}
	var result DealEvaluation
	if err := decode("evaluate_deal", text, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AnalyzePattern 请求基于购买/库存快照的消费模式聚合分析。
func (c *Client) AnalyzePattern(ctx context.Context, purchases []model.PurchaseRecord, inventory []model.InventoryItem) (*PatternAnalysis, error) {
	text, err := c.request(ctx, "analyze_pattern", renderPatternPrompt(purchases, inventory))
	if err != nil {
		return nil, err
	}
	var result PatternAnalysis
	if err := decode("analyze_pattern", text, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OptimizeBudget 请求预算优化建议。
func (c *Client) OptimizeBudget(ctx context.Context, envelopes []model.BudgetEnvelope, list []model.ShoppingListItem) (*BudgetPlan, error) {
	text, err := c.request(ctx, "optimize_budget", renderBudgetPrompt(envelopes, list))
	if err != nil {
		return nil, err
	}
	var result BudgetPlan
	if err := decode("optimize_budget", text, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SuggestAlternatives 请求某清单项的替代商品建议。
func (c *Client) SuggestAlternatives(ctx context.Context, item model.ShoppingListItem) ([]Alternative, error) {
	text, err := c.request(ctx, "suggest_alternatives", renderAlternativesPrompt(item))
	if err != nil {
		return nil, err
	}
	var result []Alternative
	if err := decode("suggest_alternatives", text, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRecommendations 请求基于购买历史的购物推荐。
func (c *Client) GetRecommendations(ctx context.Context, purchases []model.PurchaseRecord) ([]Recommendation, error) {
	text, err := c.request(ctx, "recommendations", renderRecommendationsPrompt(purchases))
	if err != nil {
		return nil, err
	}
	var result []Recommendation
	if err := decode("recommendations", text, &result); err != nil {
		return nil, err
	}
	return result, nil
}
