// Package narrative writes a short plain-language summary of a dashboard
// using OpenAI chat completions.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/heliotrends/internal/models"
)

const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You write one short paragraph (at most three sentences) for a playful dashboard that compares space weather with trending movies and TV. The correlation is for entertainment only; never claim causation. Use plain language and no markdown.`

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Generator summarises dashboards with an OpenAI chat model.
type Generator struct {
	client openai.Client
	model  string
}

// NewGenerator returns an error when no API key is configured.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Generator{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Summarize returns a summary of the correlation between solar and trending.
func (g *Generator) Summarize(ctx context.Context, solar *models.SolarSnapshot, trending *models.TrendingSnapshot, corr *models.CorrelationResult) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(solar, trending, corr)),
		},
	}, option.WithMaxRetries(0))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", errors.New("empty summary returned")
	}

	log.Printf("narrative: generated %d character summary", len(summary))
	return summary, nil
}

// BuildPrompt renders the dashboard facts the model is allowed to use.
func BuildPrompt(solar *models.SolarSnapshot, trending *models.TrendingSnapshot, corr *models.CorrelationResult) string {
	var b strings.Builder

	if solar != nil {
		fmt.Fprintf(&b, "Space weather: Kp %.1f (%s), solar wind %.0f km/s, %d flares and %d CMEs in the last week.\n",
			solar.KpIndex, solar.ActivityLevel, solar.SolarWind.Speed, len(solar.SolarFlares), len(solar.CMEEvents))
	}

	if trending != nil {
		var titles []string
		for i, m := range trending.TrendingMovies {
			if i == 3 {
				break
			}
			titles = append(titles, m.DisplayTitle())
		}
		if len(titles) > 0 {
			fmt.Fprintf(&b, "Top trending: %s.\n", strings.Join(titles, ", "))
		}
		if len(trending.TopGenres) > 0 {
			fmt.Fprintf(&b, "Leading genre: %s.\n", trending.TopGenres[0].Name)
		}
	}

	if corr != nil {
		fmt.Fprintf(&b, "Correlation: %.2f (%s).\n", corr.Coefficient, corr.Strength)
		for _, a := range corr.Anomalies {
			fmt.Fprintf(&b, "Anomaly: %s\n", a.Description)
		}
		for _, in := range corr.Insights {
			fmt.Fprintf(&b, "Insight: %s\n", in)
		}
	}

	return strings.TrimSpace(b.String())
}
