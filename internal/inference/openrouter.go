package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// HTTPTransport speaks the OpenAI-compatible chat/completions protocol
// served by OpenRouter and most self-hosted gateways.
type HTTPTransport struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

func NewHTTPTransport(baseURL, apiKey, model string) *HTTPTransport {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return &HTTPTransport{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

func (t *HTTPTransport) Complete(ctx context.Context, req *Request) (string, error) {
	body, err := json.Marshal(t.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	httpReq.Header.Set("HTTP-Referer", "https://github.com/ivlev/pdf2html")
	httpReq.Header.Set("X-Title", "pdf2html")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &StatusError{Code: http.StatusBadGateway, Body: "undecodable response: " + err.Error()}
	}
	if parsed.Error != nil {
		// gateways report upstream failures in the body of a 200
		return "", &StatusError{Code: http.StatusBadGateway, Body: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &StatusError{Code: http.StatusBadGateway, Body: "response has no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (t *HTTPTransport) buildRequest(req *Request) *chatRequest {
	out := &chatRequest{
		Model:       t.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		msg := chatMessage{Role: string(m.Role)}
		if m.Text != "" {
			msg.Content = append(msg.Content, contentPart{Type: "text", Text: m.Text})
		}
		for _, img := range m.Images {
			msg.Content = append(msg.Content, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: dataURL(img)},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}

func dataURL(img Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
