package ai

import (
	"context"
	"errors"
)

// Request represents a generic text inference request.
type Request struct {
	System    string // system prompt, optional
	Prompt    string // user content
	Model     string
	MaxTokens int // 0 means provider default
}

type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client interface for providers like OpenAI, Anthropic.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

var ErrRateLimited = errors.New("rate_limited")

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
