// Package statuscheck aggregates readiness checks for the external
// dependencies shown on the dashboard status panel.
package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RedisPinger models the minimal capability needed to probe the mirror.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// Checker probes the insight providers and the optional status mirror.
type Checker struct {
	redis         RedisPinger
	httpClient    *http.Client
	openAIKey     string
	anthropicKey  string
	openAIBase    string
	anthropicBase string
}

// Options configures the Checker. Base URLs default to the public provider
// endpoints.
type Options struct {
	Redis         RedisPinger
	HTTPClient    *http.Client
	OpenAIKey     string
	AnthropicKey  string
	OpenAIBase    string
	AnthropicBase string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses for the dashboard.
type Summary struct {
	OpenAI    Status `json:"openai"`
	Anthropic Status `json:"anthropic"`
	Redis     Status `json:"redis"`
}

// New creates a Checker with the provided options.
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	openAIBase := opts.OpenAIBase
	if openAIBase == "" {
		openAIBase = "https://api.openai.com"
	}
	anthropicBase := opts.AnthropicBase
	if anthropicBase == "" {
		anthropicBase = "https://api.anthropic.com"
	}
	return &Checker{
		redis:         opts.Redis,
		httpClient:    client,
		openAIKey:     strings.TrimSpace(opts.OpenAIKey),
		anthropicKey:  strings.TrimSpace(opts.AnthropicKey),
		openAIBase:    strings.TrimRight(openAIBase, "/"),
		anthropicBase: strings.TrimRight(anthropicBase, "/"),
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		OpenAI:    c.checkOpenAI(ctx),
		Anthropic: c.checkAnthropic(ctx),
		Redis:     c.checkRedis(ctx),
	}
}

func (c *Checker) checkOpenAI(ctx context.Context) Status {
	if c.openAIKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.openAIBase+"/v1/models?limit=1", nil)
	req.Header.Set("Authorization", "Bearer "+c.openAIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkAnthropic(ctx context.Context) Status {
	if c.anthropicKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.anthropicBase+"/v1/models", nil)
	req.Header.Set("x-api-key", c.anthropicKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "Mirror not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
