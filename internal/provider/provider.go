// Package provider abstracts the chat model behind a streaming interface.
package provider

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/pkg/models"
)

// ToolCall is one complete tool invocation proposed by the model, assembled
// from streamed fragments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Chunk is one unit of streamed model output. Exactly one field is set,
// except Done which accompanies the final chunk.
type Chunk struct {
	Text     string
	ToolCall *ToolCall
	Usage    *models.Usage
	Err      error
	Done     bool
}

// Request is one model invocation: an already-budgeted message window plus
// the tool set the model may call.
type Request struct {
	Messages []*models.Message
	Tools    []tools.Definition
}

// Provider streams model output. The returned channel is closed by the
// provider when the stream ends; an Err chunk precedes the close on failure.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}
