package gateway

import (
	"context"
	"fmt"
)

// Gateway is the single seam between agents and a language model. Agents
// never talk to a provider directly; everything goes through Complete so
// failures surface as a typed Error the engine can retry on.
type Gateway interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request carries one completion call. When Schema is non-empty the
// provider is asked for JSON conforming to it and Response.Structured
// holds the raw document.
type Request struct {
	Messages    []Message
	Schema      string
	SchemaName  string
	Temperature float32
	MaxTokens   int
}

type Response struct {
	Text       string
	Structured []byte
}

type ErrorKind string

const (
	ErrTimeout     ErrorKind = "timeout"
	ErrRateLimited ErrorKind = "rate-limited"
	ErrMalformed   ErrorKind = "malformed-output"
	ErrUnavailable ErrorKind = "unavailable"
)

// Error is the only error type Complete returns. Retryable kinds
// (timeout, rate-limited, unavailable) are worth another attempt with the
// same request; malformed-output means the model answered but the answer
// is unusable.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway: %s", e.Kind)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrTimeout, ErrRateLimited, ErrUnavailable:
		return true
	}
	return false
}
