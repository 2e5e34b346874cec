package inference

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainTransport adapts a langchaingo model to Transport.
type LangChainTransport struct {
	provider string
	llm      llms.Model
}

// ProviderConfig describes how to reach a vendor API.
type ProviderConfig struct {
	Provider string // openrouter, openai, ollama, anthropic
	Endpoint string
	Model    string
	APIKey   string
}

// NewTransport builds the transport for the configured provider.
func NewTransport(cfg ProviderConfig) (Transport, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openrouter":
		return NewHTTPTransport(cfg.Endpoint, cfg.APIKey, cfg.Model), nil
	case "openai", "ollama", "anthropic":
		return NewLangChainTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
	}
}

func NewLangChainTransport(cfg ProviderConfig) (*LangChainTransport, error) {
	provider := strings.ToLower(cfg.Provider)

	var model llms.Model
	var err error
	switch provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		model, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.Endpoint != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
		}
		model, err = ollama.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model), anthropic.WithToken(cfg.APIKey)}
		if cfg.Endpoint != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
		}
		model, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating %s client: %w", provider, err)
	}

	return &LangChainTransport{provider: provider, llm: model}, nil
}

func (t *LangChainTransport) Complete(ctx context.Context, req *Request) (string, error) {
	var callOpts []llms.CallOption
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}
	callOpts = append(callOpts, llms.WithTemperature(req.Temperature))

	completion, err := t.llm.GenerateContent(ctx, t.messages(req), callOpts...)
	if err != nil {
		return "", classifyLangChainError(err)
	}
	if len(completion.Choices) == 0 {
		return "", &StatusError{Code: 502, Body: "response has no choices"}
	}
	return completion.Choices[0].Content, nil
}

func (t *LangChainTransport) messages(req *Request) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		var parts []llms.ContentPart
		for _, img := range m.Images {
			// OpenAI expects image URLs; the other providers take raw bytes
			if t.provider == "openai" {
				parts = append(parts, llms.ImageURLPart(dataURL(img)))
			} else {
				parts = append(parts, llms.BinaryPart(img.MIMEType, img.Data))
			}
		}
		if m.Text != "" {
			parts = append(parts, llms.TextPart(m.Text))
		}
		out = append(out, llms.MessageContent{Role: chatRole(m.Role), Parts: parts})
	}
	return out
}

func chatRole(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

var statusPattern = regexp.MustCompile(`status(?: code)?:? ?(\d{3})`)

// classifyLangChainError recovers the HTTP status that langchaingo folds
// into its error strings so IsTransient can see it.
func classifyLangChainError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &StatusError{Code: code, Body: err.Error()}
	}
	return err
}
