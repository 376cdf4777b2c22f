package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds each Complete call; an expired call comes back as a
	// retryable timeout error. Zero disables the per-call deadline.
	Timeout time.Duration
}

// OpenAI adapts any OpenAI-compatible chat endpoint to the Gateway
// interface. Provider failures are folded into the four Error kinds so
// callers never see transport details.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *log.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger *log.Logger) *OpenAI {
	if logger == nil {
		logger = log.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	if req.Schema != "" {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: json.RawMessage(req.Schema),
				Strict: true,
			},
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, &Error{Kind: ErrMalformed, Err: errors.New("no choices in completion")}
	}
	text := resp.Choices[0].Message.Content

	out := Response{Text: text}
	if req.Schema != "" {
		if !json.Valid([]byte(text)) {
			o.logger.Printf("gateway: model returned non-JSON for schema %q", req.SchemaName)
			return Response{}, &Error{Kind: ErrMalformed, Err: errors.New("structured response is not valid JSON")}
		}
		out.Structured = []byte(text)
	}
	return out, nil
}

func classify(err error) error {
	// Session cancellation is not a provider failure; hand it back
	// unwrapped so the caller stops instead of retrying.
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrTimeout, Err: err}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &Error{Kind: ErrRateLimited, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &Error{Kind: ErrUnavailable, Err: err}
		}
		return &Error{Kind: ErrMalformed, Err: err}
	}
	return &Error{Kind: ErrUnavailable, Err: err}
}
