package summarizer

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
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "meta-llama/llama-4-scout-17b-16e-instruct"

	// NotConfiguredText 是未配置凭据时返回给调用方的固定文本。
	NotConfiguredText = "AI analysis not available - API key not configured"
)

var ErrNotConfigured = errors.New("summarizer: api key not configured")

// StatusError 表示 AI 接口有响应但状态码不是 200，与网络层失败区分开。
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("AI 接口返回错误：status=%d msg=%s", e.Code, e.Message)
	}
	return fmt.Sprintf("AI 接口返回错误：status=%d", e.Code)
}

// Summarizer 把一段提示词变成简短的分析文本。
type Summarizer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client 使用 OpenAI 兼容的 chat/completions 协议（默认 Groq）。
type Client struct {
	apiKey      string
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = 0.7
	}
	return &Client{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		endpoint:    base + "/chat/completions",
		model:       model,
		temperature: temp,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Complete 没有凭据时直接返回 ErrNotConfigured，不做任何网络 I/O。
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败：%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 AI 接口失败：%w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("读取 AI 响应失败：%w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Code: resp.StatusCode}
		var e apiError
		if json.Unmarshal(body, &e) == nil {
			se.Message = e.Error.Message
		}
		return "", se
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("解析 AI 响应失败：%w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("AI 响应中没有候选结果")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Truncate 按字符（rune）截断，超长时追加 "..."。
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
