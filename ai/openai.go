package ai

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

	"github.com/polyglot-chat/polyglot/config"
)

const (
	detectSystemPrompt = "You are a language detector. Respond with only the ISO 639-1 language code (e.g., 'en', 'es', 'fr')."
	detectUserPrompt   = "Detect the language of this text and respond with only the ISO 639-1 code: %s"

	translateSystemPrompt = "You are a professional translator. Translate the following text from %s to %s. Only return the translated text, nothing else."
)

// OpenAIProvider talks to an OpenAI-compatible API: chat completions for
// detection and translation, the moderations endpoint for content scoring.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewOpenAIProvider(cfg config.AIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResp struct {
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type moderationReq struct {
	Input string `json:"input"`
}

type moderationResp struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Detect(ctx context.Context, text string) (string, error) {
	content, err := p.chat(ctx, chatReq{
		Model: p.Model,
		Messages: []chatMsg{
			{Role: "system", Content: detectSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(detectUserPrompt, text)},
		},
		MaxTokens:   10,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(content)), nil
}

func (p *OpenAIProvider) Translate(ctx context.Context, text, source, target string) (string, error) {
	content, err := p.chat(ctx, chatReq{
		Model: p.Model,
		Messages: []chatMsg{
			{Role: "system", Content: fmt.Sprintf(translateSystemPrompt, source, target)},
			{Role: "user", Content: text},
		},
		MaxTokens:   500,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (p *OpenAIProvider) Moderate(ctx context.Context, text string) (*Moderation, error) {
	var decoded moderationResp
	if err := p.post(ctx, "/moderations", moderationReq{Input: text}, &decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, errors.New(decoded.Error.Message)
	}
	if len(decoded.Results) == 0 {
		return nil, errors.New("openai: empty moderation response")
	}
	return &Moderation{
		Flagged:        decoded.Results[0].Flagged,
		CategoryScores: decoded.Results[0].CategoryScores,
	}, nil
}

func (p *OpenAIProvider) chat(ctx context.Context, reqBody chatReq) (string, error) {
	var decoded chatResp
	if err := p.post(ctx, "/chat/completions", reqBody, &decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, reqBody, out interface{}) error {
	if p.Client == nil {
		return errors.New("openai: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return errors.New("openai: api key is required")
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	url := strings.TrimRight(p.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("openai: %s", msg)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
