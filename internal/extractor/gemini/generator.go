// Package gemini adapts the Gemini API to crawler.StructuredGenerator.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// ErrGeneratorDisabled is returned by Noop.
var ErrGeneratorDisabled = errors.New("gemini: no api key configured")

// Config controls the Gemini client.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; tests point it at httptest servers.
	BaseURL    string
	HTTPClient *http.Client
}

// Generator calls GenerateContent with a JSON response schema.
type Generator struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed generator.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, ErrGeneratorDisabled
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Generator{client: client, model: model}, nil
}

// Generate implements crawler.StructuredGenerator.
func (g *Generator) Generate(ctx context.Context, prompt string, schema *crawler.Schema) ([]byte, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(schema),
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, errors.New("generate content: empty response")
	}
	return []byte(text), nil
}

func toGenaiSchema(s *crawler.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Format:      s.Format,
		Items:       toGenaiSchema(s.Items),
		Required:    s.Required,
	}
	if s.Nullable {
		out.Nullable = genai.Ptr(true)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}

// Noop is used when no API key is configured. Every call fails, which the
// extractor reports as an empty extraction.
type Noop struct{}

// Generate implements crawler.StructuredGenerator.
func (Noop) Generate(context.Context, string, *crawler.Schema) ([]byte, error) {
	return nil, ErrGeneratorDisabled
}
