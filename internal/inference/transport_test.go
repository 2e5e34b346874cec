package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":"<result>hi</result>"}}]}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/", "sk-test", "vision-model")
	req := Prompt("look", PNG([]byte("png-bytes")))
	req.MaxTokens = 100

	text, err := tr.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "<result>hi</result>", text)

	assert.Equal(t, "vision-model", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "text", got.Messages[0].Content[0].Type)
	assert.True(t, strings.HasPrefix(got.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestHTTPTransportStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true},
		{"server error", http.StatusInternalServerError, `oops`, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, false},
		{"upstream error in 200", http.StatusOK, `{"error":{"message":"provider down"}}`, true},
		{"no choices", http.StatusOK, `{"choices":[]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPTransport(srv.URL, "k", "m").Complete(context.Background(), Prompt("x"))
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestHTTPTransportConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport(url, "k", "m").Complete(context.Background(), Prompt("x"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClassifyLangChainError(t *testing.T) {
	err := classifyLangChainError(errors.New("API returned unexpected status code: 429: too many requests"))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 429, se.Code)
	assert.True(t, IsTransient(err))

	err = classifyLangChainError(errors.New("anthropic: API returned unexpected status code: 401"))
	require.ErrorAs(t, err, &se)
	assert.False(t, IsTransient(err))

	plain := errors.New("something else")
	assert.Equal(t, plain, classifyLangChainError(plain))
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(ProviderConfig{Provider: "openrouter", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPTransport{}, tr)

	tr, err = NewTransport(ProviderConfig{Provider: "ollama", Endpoint: "http://localhost:11434", Model: "llava"})
	require.NoError(t, err)
	assert.IsType(t, &LangChainTransport{}, tr)

	_, err = NewTransport(ProviderConfig{Provider: "telegraph"})
	assert.Error(t, err)
}

func TestLangChainMessages(t *testing.T) {
	tr := &LangChainTransport{provider: "anthropic"}
	req := Prompt("first", PNG([]byte{1})).Follow("answer", "second")

	msgs := tr.messages(req)
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[0].Parts, 2)
	assert.Equal(t, chatRole(RoleAssistant), msgs[1].Role)
}
