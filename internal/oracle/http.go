package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const systemPrompt = "You are a crypto futures trading decision engine. " +
	"Reply with a single JSON object: {\"analysis\": string, \"actions\": " +
	"[{\"action\": \"open_long|open_short|close|hold|skip\", \"symbol\": string, " +
	"\"margin_usdt\": number, \"stop_price\": number, \"target_price\": number, " +
	"\"confidence\": 0-100, \"reason\": string}]}."

// HTTPDecider calls an OpenAI-compatible chat-completions endpoint once per
// cycle. It is deliberately thin: the provider is an external black box.
type HTTPDecider struct {
	url    string
	model  string
	apiKey string
	http   *http.Client
	log    zerolog.Logger
}

// NewHTTPDecider builds a provider client with a hard request timeout.
func NewHTTPDecider(url, model, apiKey string, timeout time.Duration, log zerolog.Logger) *HTTPDecider {
	return &HTTPDecider{
		url:    url,
		model:  model,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
		log:    log,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (d *HTTPDecider) Decide(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal decision request: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
		Temperature:    0.3,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	start := time.Now()
	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("decision provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("decision provider: status %d: %s", resp.StatusCode, raw)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Response{}, fmt.Errorf("decode provider response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return Response{}, fmt.Errorf("decision provider: empty choices")
	}

	parsed := ParseResponse([]byte(chat.Choices[0].Message.Content))
	d.log.Info().
		Int("actions", len(parsed.Actions)).
		Dur("latency", time.Since(start)).
		Str("model", d.model).
		Msg("decision received")
	return parsed, nil
}
