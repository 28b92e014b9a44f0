package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/storyboard/enrich-go/internal/conf"
)

// ProviderTextGen is the stable name of the generative-text fallback adapter.
const ProviderTextGen = "textgen"

// TextGenAdapter generates a visitor summary and tips for attractions no
// other source covers. It is the last adapter in the review fallback chain.
type TextGenAdapter struct {
	settings *conf.TextGenSettings
	llm      llms.Model
	pace     *pacer
}

// NewTextGenAdapter creates the generative-text fallback adapter.
func NewTextGenAdapter(settings *conf.TextGenSettings) (*TextGenAdapter, error) {
	opts := []openai.Option{openai.WithToken(settings.APIKey)}
	if settings.Model != "" {
		opts = append(opts, openai.WithModel(settings.Model))
	}
	if settings.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(settings.Endpoint))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating textgen model client: %w", err)
	}
	return &TextGenAdapter{
		settings: settings,
		llm:      llm,
		pace:     newPacer(settings.RequestsPerMinute),
	}, nil
}

// Name implements Adapter.
func (t *TextGenAdapter) Name() string { return ProviderTextGen }

// QuotaWindow implements Adapter.
func (t *TextGenAdapter) QuotaWindow() time.Duration { return t.settings.QuotaWindow }

const textGenPrompt = `Write about the attraction "%s" in %s for travelers.
First a single paragraph summary (2-3 sentences, factual tone).
Then exactly %d practical visitor tips, one per line, each starting with "- ".
Do not use markdown headings or numbering.`

// FetchPage implements Adapter. Generation is a single page: one completion
// yields a summary plus a fixed number of tips.
func (t *TextGenAdapter) FetchPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	if err := t.pace.wait(ctx); err != nil {
		return nil, transientError(ProviderTextGen, err)
	}

	tips := req.PageSize
	if tips <= 0 {
		tips = 5
	}
	prompt := fmt.Sprintf(textGenPrompt, req.AttractionName, req.CityName, tips)

	completion, err := llms.GenerateFromSinglePrompt(ctx, t.llm, prompt,
		llms.WithTemperature(0.4))
	if err != nil {
		return nil, t.classify(err)
	}

	result := &PageResult{IsLastPage: true, NextCursor: EndOfStream}
	summary, tipLines := splitGenerated(completion)
	if summary != "" {
		result.Items = append(result.Items, TextItem{
			Kind:   "summary",
			Text:   summary,
			Source: ProviderTextGen,
		})
	}
	for _, tip := range tipLines {
		result.Items = append(result.Items, TextItem{
			Kind:   "tip",
			Text:   tip,
			Source: ProviderTextGen,
		})
	}
	if len(result.Items) == 0 {
		return nil, dataError(ProviderTextGen, fmt.Errorf("textgen produced no usable output"))
	}
	return result, nil
}

// classify inspects the completion error text. The OpenAI-compatible client
// does not expose structured status codes, so quota detection is by message.
func (t *TextGenAdapter) classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"):
		return quotaError(ProviderTextGen, err)
	case strings.Contains(msg, "401"), strings.Contains(msg, "invalid api key"):
		return dataError(ProviderTextGen, err)
	default:
		return transientError(ProviderTextGen, err)
	}
}

// splitGenerated separates the summary paragraph from the "- " tip lines.
func splitGenerated(text string) (string, []string) {
	var summaryParts, tips []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if tip, ok := strings.CutPrefix(line, "- "); ok {
			if tip = strings.TrimSpace(tip); tip != "" {
				tips = append(tips, tip)
			}
			continue
		}
		if len(tips) == 0 {
			summaryParts = append(summaryParts, line)
		}
	}
	return strings.Join(summaryParts, " "), tips
}
