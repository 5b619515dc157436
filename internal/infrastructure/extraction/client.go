// Package extraction calls a remote structured-extraction service and turns
// its free-form output into typed tender fields.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"TenderScanner/internal/config"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/retry"
)

// maxContentRunes bounds the content prefix sent per request to keep cost
// and latency predictable.
const maxContentRunes = 5000

const systemInstruction = `你是一个专业的招标信息提取助手。从招标公告文本中提取关键信息，以JSON格式返回。
字段: project_name, budget_amount (人民币元，"万元"乘以10000), budget_currency (默认"CNY"),
deadline (ISO 8601), contact_person, contact_phone, contact_email, location。
严格返回JSON对象，无法提取的字段使用null，不要包含任何额外说明。`

// Client talks to the Gemini generateContent API.
type Client struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	retryCfg    retry.Config
	httpClient  *http.Client
	logger      *slog.Logger
}

var _ ports.Extractor = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.GeminiConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		retryCfg:    retry.DefaultConfig(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Extract sends the announcement to the remote model and returns normalized
// fields. It retries transient failures; exhausting the attempts returns an
// error. A response without a usable payload returns (nil, nil).
func (c *Client) Extract(ctx context.Context, title, content string) (*domain.ExtractedFields, error) {
	prompt := buildPrompt(title, truncateRunes(content, maxContentRunes))

	var text string
	err := retry.Do(ctx, c.retryCfg, func() error {
		var callErr error
		text, callErr = c.generate(ctx, prompt)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("extraction failed after retries: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		c.logger.Warn("empty extraction response", "title", truncateRunes(title, 50))
		return nil, nil
	}

	payload := ParseResponse(text)
	if payload == nil {
		c.logger.Warn("no parseable payload in extraction response",
			"title", truncateRunes(title, 50), "response", truncateRunes(text, 200))
		return nil, nil
	}

	fields, err := Normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("validate extraction payload: %w", err)
	}

	c.logger.Debug("extraction succeeded", "title", truncateRunes(title, 50))
	return fields, nil
}

func buildPrompt(title, content string) string {
	return fmt.Sprintf("请从以下招标公告中提取关键信息:\n\n标题: %s\n\n内容:\n%s\n\n返回JSON格式的提取结果:", title, content)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

type generateRequest struct {
	Contents          []contentPart    `json:"contents"`
	SystemInstruction *contentPart     `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type contentPart struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content contentPart `json:"content"`
	} `json:"candidates"`
}

// generate performs one generateContent call and returns the candidate text.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents:          []contentPart{{Parts: []textPart{{Text: prompt}}}},
		SystemInstruction: &contentPart{Parts: []textPart{{Text: systemInstruction}}},
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			TopP:            0.95,
			MaxOutputTokens: 2048,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("extraction service error %s: %s",
			resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Candidates) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
