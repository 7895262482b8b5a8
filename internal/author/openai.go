package author

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fabulabot/fabula/config"
	"github.com/fabulabot/fabula/internal/story"
)

// openaiClient talks to any OpenAI-compatible chat-completions endpoint.
type openaiClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func newOpenAIClient(p config.AIProvider, temperature float64, timeout time.Duration) *openaiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &openaiClient{
		apiKey:      p.APIKey,
		baseURL:     p.BaseURL,
		model:       p.Model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// GenerateChapter sends the system and user prompts and parses the first
// completion choice into a chapter. Output that violates the chapter shape
// is a provider failure, never coerced.
func (c *openaiClient) GenerateChapter(ctx context.Context, prompt string) (*story.Chapter, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: story.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AI returned status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	var chapter story.Chapter
	if err := json.Unmarshal([]byte(extractFirstJSON(out.Choices[0].Message.Content)), &chapter); err != nil {
		return nil, fmt.Errorf("parse chapter: %w", err)
	}
	if err := chapter.Validate(); err != nil {
		return nil, err
	}
	return &chapter, nil
}

// extractFirstJSON finds the first top-level JSON object in a string.
// Completions occasionally wrap the document in prose or code fences.
func extractFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
