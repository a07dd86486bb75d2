// Package insight produces a document-level summary, keyword list and
// suggested file name from extracted text. Analysis is best-effort: every
// failure path resolves to a fixed default result, never an error.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/ai"
	"github.com/local/pageforge/internal/archive"
	"github.com/local/pageforge/internal/config"
	"github.com/local/pageforge/internal/limiter"
	"github.com/local/pageforge/internal/metrics"
	"github.com/local/pageforge/internal/pdf"
)

// Result of analyzing a document. Degraded marks the fixed default used when
// no analysis was possible.
type Result struct {
	Summary           string   `json:"summary"`
	Keywords          []string `json:"keywords"`
	SuggestedFileName string   `json:"suggestedFileName"`
	Degraded          bool     `json:"degraded"`
}

const (
	defaultSummary  = "Could not analyze document content."
	defaultFileName = "document_export"
)

// DefaultResult is the substitute when there is no text or every provider
// attempt failed.
func DefaultResult() Result {
	return Result{
		Summary:           defaultSummary,
		Keywords:          []string{},
		SuggestedFileName: defaultFileName,
		Degraded:          true,
	}
}

const analysisSystem = "You are a document analyst. Respond with a single JSON object and nothing else."

// Generator runs the analysis call with provider failover: primary engine
// then secondary engine, one bounded attempt each.
type Generator struct {
	conf      config.Config
	openai    ai.Client
	anthropic ai.Client
	inflight  *limiter.Inflight
}

func New(conf config.Config, openaiClient, anthropicClient ai.Client, inflight *limiter.Inflight) *Generator {
	return &Generator{conf: conf, openai: openaiClient, anthropic: anthropicClient, inflight: inflight}
}

// Analyze summarizes text and always resolves to a Result. Empty or
// whitespace-only text short-circuits to the default without a remote call.
func (g *Generator) Analyze(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		log.Debug().Msg("no text to analyze; using default insight")
		return DefaultResult()
	}
	prompt := buildPrompt(pdf.Truncate(text, g.conf.Insight.MaxChars), g.conf.Insight.MaxKeywords)

	engines := []string{g.conf.Providers.PrimaryEngine, g.conf.Providers.SecondaryEngine}
	for i, provider := range engines {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && provider == engines[0] {
			continue
		}
		client, model := g.clientFor(provider)
		if client == nil || model == "" {
			continue
		}
		log.Info().Str("provider", provider).Str("model", model).
			Msgf("attempting document analysis [%d/%d]", i+1, len(engines))
		if res, ok := g.attempt(client, provider, model, prompt); ok {
			return res
		}
	}

	log.Error().Msg("all insight providers exhausted; using default")
	return DefaultResult()
}

func (g *Generator) clientFor(provider string) (ai.Client, string) {
	switch provider {
	case "openai":
		return g.openai, g.conf.Providers.OpenAIModel
	case "anthropic":
		return g.anthropic, g.conf.Providers.AnthropicModel
	}
	return nil, ""
}

func (g *Generator) attempt(client ai.Client, provider, model, prompt string) (Result, bool) {
	if g.inflight != nil {
		release, ok := g.inflight.Allow(provider, model)
		if !ok {
			log.Warn().Str("provider", provider).Str("model", model).
				Msg("no free slot for provider; skipping")
			return Result{}, false
		}
		defer release()
	}

	// Fresh context per attempt, not inheriting from the caller, so a
	// cancelled or expired predecessor cannot bleed into this call.
	cctx, cancel := context.WithTimeout(context.Background(), g.conf.Insight.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Do(cctx, ai.Request{System: analysisSystem, Prompt: prompt, Model: model})
	dur := time.Since(start)

	if err != nil {
		result := "error"
		switch {
		case cctx.Err() == context.DeadlineExceeded:
			result = "timeout"
		case ai.IsRateLimited(err):
			result = "rate_limited"
		}
		metrics.ObserveInsight(provider, model, result, dur)
		log.Warn().Err(err).Str("provider", provider).Str("model", model).
			Dur("duration", dur).Str("result", result).Msg("insight provider call failed")
		return Result{}, false
	}

	res, err := parseResult(resp.Text, g.conf.Insight.MaxKeywords)
	if err != nil {
		metrics.ObserveInsight(provider, model, "bad_response", dur)
		log.Warn().Err(err).Str("provider", provider).Str("model", model).
			Msg("insight response unusable")
		return Result{}, false
	}

	metrics.ObserveInsight(provider, model, "success", dur)
	log.Debug().Str("provider", provider).Str("model", model).Dur("duration", dur).
		Int("tokens_in", resp.TokensIn).Int("tokens_out", resp.TokensOut).
		Msg("insight provider call success")
	return res, true
}

func buildPrompt(text string, maxKeywords int) string {
	return fmt.Sprintf(`Analyze the following document text and respond with a single JSON object with exactly these keys:
"summary": a 1-2 sentence summary of the document,
"keywords": an array of 5-%d keywords,
"suggestedFileName": a short lowercase file name, words joined by underscores, no extension, no spaces.

Document text:
%s`, maxKeywords, text)
}

type insightPayload struct {
	Summary           string   `json:"summary"`
	Keywords          []string `json:"keywords"`
	SuggestedFileName string   `json:"suggestedFileName"`
}

// parseResult extracts and sanitizes the provider's JSON reply. Responses
// wrapped in markdown fences or surrounding prose are tolerated.
func parseResult(raw string, maxKeywords int) (Result, error) {
	blob := extractJSON(raw)
	if blob == "" {
		return Result{}, fmt.Errorf("no JSON object in response")
	}
	var p insightPayload
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return Result{}, fmt.Errorf("parse insight JSON: %w", err)
	}
	summary := strings.TrimSpace(p.Summary)
	if summary == "" {
		return Result{}, fmt.Errorf("empty summary in response")
	}
	keywords := make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		keywords = append(keywords, k)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return Result{
		Summary:           summary,
		Keywords:          keywords,
		SuggestedFileName: archive.SanitizeFileName(p.SuggestedFileName, defaultFileName),
	}, nil
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
