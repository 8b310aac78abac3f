// Package vision asks a multimodal model to classify advertising zones on a
// page screenshot. The model's output schema is advisory, not a contract, so
// parsing is strict on structure but tolerant of minor variance.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// ErrInvalidAnalysis marks model output that cannot be recovered into a zone
// list even after tolerant decoding.
var ErrInvalidAnalysis = errors.New("invalid analysis response")

// ErrMissingCredential marks a request that reached the analyzer with no
// inference API key configured or supplied. It is caller-correctable input,
// not an analysis failure.
var ErrMissingCredential = errors.New("missing inference API credential")

// Analysis is the strict internal form every accepted schema variant is
// normalized into.
type Analysis struct {
	Zones    []model.AdZone
	Language string
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Analyzer struct {
	cfg       *config.OpenAIConfig
	log       *slog.Logger
	newClient func(apiKey string) chatClient
}

func NewAnalyzer(cfg *config.OpenAIConfig, log *slog.Logger) *Analyzer {
	a := &Analyzer{cfg: cfg, log: log}
	a.newClient = func(apiKey string) chatClient {
		clientCfg := openai.DefaultConfig(apiKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		return openai.NewClientWithConfig(clientCfg)
	}
	return a
}

// Analyze sends the screenshot to the vision model and returns the normalized
// zone classification. apiKey overrides the configured credential when the
// request carried one.
func (a *Analyzer) Analyze(ctx context.Context, target model.NormalizedURL, img *model.OptimizedImage,
	apiKey string) (*Analysis, error) {
	if apiKey == "" {
		apiKey = a.cfg.APIKey
	}
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.Bytes)
	detail := openai.ImageURLDetailHigh
	if strings.EqualFold(a.cfg.ImageDetail, "low") {
		detail = openai.ImageURLDetailLow
	}

	resp, err := a.newClient(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.cfg.VisionModel,
		MaxTokens: a.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: zonePrompt(target.AbsoluteURL),
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: detail,
					},
				},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrInvalidAnalysis)
	}

	analysis, err := ParseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		a.log.Error("vision response rejected.", slog.String("url", target.AbsoluteURL),
			slog.String("err", err.Error()))
		return nil, err
	}
	a.log.Debug("vision analysis complete.", slog.Int("zones", len(analysis.Zones)),
		slog.String("language", analysis.Language))

	return analysis, nil
}

// ParseAnalysis normalizes a model response into an Analysis. It accepts both
// an object wrapping a "zones" array and a bare top-level array, strips code
// fences, and recovers the first balanced {...} substring when the whole text
// is not valid JSON. Every zone entry must carry at minimum a name and a
// priority; missing optional fields default rather than fail.
func ParseAnalysis(raw string) (*Analysis, error) {
	text := stripCodeFences(strings.TrimSpace(raw))
	if !gjson.Valid(text) {
		recovered, ok := extractBalancedObject(text)
		if !ok || !gjson.Valid(recovered) {
			return nil, fmt.Errorf("%w: not parseable as JSON", ErrInvalidAnalysis)
		}
		text = recovered
	}

	root := gjson.Parse(text)
	var zonesVal gjson.Result
	switch {
	case root.IsArray():
		zonesVal = root
	case root.Get("zones").IsArray():
		zonesVal = root.Get("zones")
	default:
		return nil, fmt.Errorf("%w: missing zones array", ErrInvalidAnalysis)
	}

	zones := make([]model.AdZone, 0, 5)
	var parseErr error
	zonesVal.ForEach(func(_, z gjson.Result) bool {
		name := z.Get("name").String()
		if name == "" {
			name = z.Get("zone").String() // older schema variant
		}
		priority := strings.ToLower(z.Get("priority").String())
		if name == "" || priority == "" {
			parseErr = fmt.Errorf("%w: zone entry missing name or priority", ErrInvalidAnalysis)
			return false
		}
		available := true // absent in the oldest schema; assume placeable
		if av := z.Get("available"); av.Exists() {
			available = av.Bool()
		}
		zones = append(zones, model.AdZone{
			Name:      name,
			Available: available,
			SizeHint:  z.Get("size").String(),
			Priority:  priority,
			Reason:    z.Get("description").String(),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	language := strings.ToLower(root.Get("language").String())
	if language != "ru" && language != "en" {
		language = "en"
	}

	return &Analysis{Zones: zones, Language: language}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractBalancedObject returns the first balanced {...} substring, skipping
// braces inside string literals.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
