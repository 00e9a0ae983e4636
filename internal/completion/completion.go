package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// OperationChatCompletion is the only operation the backends serve. An
	// empty Request.Operation means the same.
	OperationChatCompletion = "anygpt_chat_completion"

	// MetadataFEN carries the position being asked about. Backends that do
	// not need it ignore it.
	MetadataFEN = "fen"
)

var (
	ErrEmptyResponse   = errors.New("completion returned no choices")
	ErrScriptExhausted = errors.New("scripted replies exhausted")

	ErrUnsupportedOperation = errors.New("unsupported completion operation")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Provider  string
	Operation string
	Messages  []Message
	MaxTokens int
	Metadata  map[string]string
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Response struct {
	Choices []Choice `json:"choices"`
}

// Text returns the trimmed content of the first choice.
func (r *Response) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Content)
}

// TextResponse wraps a single assistant reply.
func TextResponse(text string) *Response {
	return &Response{Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: text}, FinishReason: "stop"}}}
}

// Completer answers a chat-style completion request.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// APIError is a non-2xx reply from a remote completion endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion api error: status=%d body=%s", e.Status, e.Body)
}

// IsRetryable reports whether err is worth another attempt: rate limiting,
// server errors and timeouts.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrScriptExhausted) || errors.Is(err, ErrUnsupportedOperation) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return shouldRetryStatus(apiErr.Status)
	}
	return true
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func checkOperation(req Request) error {
	if req.Operation == "" || req.Operation == OperationChatCompletion {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedOperation, req.Operation)
}

func lastMessage(req Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}
