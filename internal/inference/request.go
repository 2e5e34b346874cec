// Package inference wraps the remote vision/language model behind one
// request/response contract with retries, rate limiting and caching.
package inference

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an encoded image attached to a message.
type Image struct {
	MIMEType string
	Data     []byte
}

// PNG wraps PNG-encoded bytes.
func PNG(data []byte) Image {
	return Image{MIMEType: "image/png", Data: data}
}

// Message is one conversation turn.
type Message struct {
	Role   Role
	Text   string
	Images []Image
}

// Request is the unit sent to a Transport.
type Request struct {
	Messages    []Message
	Timeout     time.Duration // zero uses the client default
	MaxTokens   int
	Temperature float64
}

// Prompt builds a single-turn request.
func Prompt(text string, images ...Image) *Request {
	return &Request{Messages: []Message{{Role: RoleUser, Text: text, Images: images}}}
}

// Follow returns a copy of the request extended with the assistant's reply and
// a new user turn.
func (r *Request) Follow(reply, text string, images ...Image) *Request {
	out := *r
	out.Messages = append(append([]Message(nil), r.Messages...),
		Message{Role: RoleAssistant, Text: reply},
		Message{Role: RoleUser, Text: text, Images: images},
	)
	return &out
}

// Response is the raw model output.
type Response struct {
	Text     string
	Attempts int
	Cached   bool
}

// Transport performs exactly one remote call.
type Transport interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (string, error)

func (f TransportFunc) Complete(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// Caller is what detection and synthesis depend on.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}
