// Package verify implements the final stage of the cascade: an external
// LLM-backed classifier confirms or rejects candidates the cheaper stages
// let through.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMalformedResponse indicates the classifier returned output that could
// not be parsed. Treated the same as a transient failure by the gate.
var ErrMalformedResponse = errors.New("malformed classifier response")

// ClassifyRequest carries everything the classifier needs to judge whether a
// message satisfies a subscription's intent.
type ClassifyRequest struct {
	MessageText      string
	Query            string
	PositiveKeywords []string
	NegativeKeywords []string
	LexicalScore     float64
	SemanticScore    *float64
}

// Verdict is the classifier's answer.
type Verdict struct {
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier is implemented by the OpenAI client and by the circuit-breaker
// decorator that wraps it.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*Verdict, error)
}

// Client wraps an OpenAI-compatible chat completion API used as the
// verification classifier.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds the classifier client configuration.
type Config struct {
	APIKey  string // required
	Model   string // default: gpt-4o-mini
	BaseURL string // default: https://api.openai.com/v1
	Timeout time.Duration
}

// NewClient creates a new classifier client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for verification")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

const systemPrompt = `You judge whether a chat message satisfies a user's standing search intent.
The user watches marketplace/community group chats for messages matching their keywords.
Answer with strict JSON only: {"confidence": <0..1>, "reasoning": "<one short sentence>"}.
Confidence is how certain you are the message genuinely satisfies the intent, not mere word overlap.`

// Classify asks the model for a confidence verdict on one (message,
// subscription) candidate. A single call, no retries; the gate owns retry
// policy.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (*Verdict, error) {
	userPrompt := buildPrompt(req)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:      200,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classifier status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if chatResp.Error != nil {
		return nil, fmt.Errorf("classifier API error: %s (%s)", chatResp.Error.Message, chatResp.Error.Type)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, verdict.Confidence)
	}

	c.logger.Debug("classifier verdict",
		zap.Float64("confidence", verdict.Confidence),
		zap.Int("prompt_tokens", chatResp.Usage.PromptTokens),
		zap.Int("completion_tokens", chatResp.Usage.CompletionTokens),
	)

	return &verdict, nil
}

func buildPrompt(req ClassifyRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "User intent: %s\n", req.Query)
	fmt.Fprintf(&b, "Wanted keywords: %s\n", strings.Join(req.PositiveKeywords, ", "))
	if len(req.NegativeKeywords) > 0 {
		fmt.Fprintf(&b, "Unwanted keywords: %s\n", strings.Join(req.NegativeKeywords, ", "))
	}
	fmt.Fprintf(&b, "Lexical score: %.2f\n", req.LexicalScore)
	if req.SemanticScore != nil {
		fmt.Fprintf(&b, "Semantic similarity: %.2f\n", *req.SemanticScore)
	}
	fmt.Fprintf(&b, "Message:\n%s", req.MessageText)

	return b.String()
}
