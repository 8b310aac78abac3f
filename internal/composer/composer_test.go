package composer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/sashabaranov/go-openai"
)

type fakeChatClient struct {
	content string
	err     error
	calls   int
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context,
	req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: f.content},
		}},
	}, nil
}

func testComposer(client *fakeChatClient) *Composer {
	c := NewComposer(
		&config.OpenAIConfig{APIKey: "test-key", TextModel: "gpt-4o-mini"},
		&config.ComposerConfig{MaxTokens: 1500, Temperature: 0.7},
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
	)
	c.newClient = func(_ string) chatClient { return client }
	return c
}

func TestComposeNoAvailableZonesSkipsInference(t *testing.T) {
	client := &fakeChatClient{content: "should not be used"}
	c := testComposer(client)

	zones := []model.AdZone{
		{Name: "Header", Available: false, Priority: "high"},
		{Name: "Footer", Available: false, Priority: "low"},
	}

	for _, language := range []string{"ru", "en"} {
		proposal := c.Compose(context.Background(), Input{
			URL: "https://example.com/", Zones: zones, Language: language,
		})
		if proposal.Text == "" {
			t.Errorf("[%s] empty proposal text", language)
		}
		if proposal.Language != language {
			t.Errorf("Language = %q, want %q", proposal.Language, language)
		}
	}
	if client.calls != 0 {
		t.Errorf("inference called %d times, want 0 for zero available zones", client.calls)
	}
}

func TestComposeStripsAsterisks(t *testing.T) {
	client := &fakeChatClient{content: "Dear **owner**, we offer *great* placements."}
	proposal := testComposer(client).Compose(context.Background(), Input{
		URL:      "https://example.com/",
		Zones:    []model.AdZone{{Name: "Header", Available: true, Priority: "high"}},
		Language: "en",
	})
	if strings.Contains(proposal.Text, "*") {
		t.Errorf("proposal contains asterisk: %q", proposal.Text)
	}
	if !strings.Contains(proposal.Text, "great") {
		t.Errorf("content lost while stripping: %q", proposal.Text)
	}
}

func TestComposeInferenceFailureDegrades(t *testing.T) {
	client := &fakeChatClient{err: errors.New("rate limited")}
	proposal := testComposer(client).Compose(context.Background(), Input{
		URL:      "https://example.com/",
		Zones:    []model.AdZone{{Name: "Header", Available: true, Priority: "high"}},
		Language: "ru",
	})
	if proposal.Text != failedRu {
		t.Errorf("Text = %q, want the fixed ru placeholder", proposal.Text)
	}
	if proposal.Language != "ru" {
		t.Errorf("Language = %q, want ru", proposal.Language)
	}
}

func TestComposePromptMentionsOnlyAvailableZones(t *testing.T) {
	client := &fakeChatClient{content: "draft"}
	testComposer(client).Compose(context.Background(), Input{
		URL: "https://example.com/",
		Zones: []model.AdZone{
			{Name: "Header", Available: true, Priority: "high", Reason: "very visible"},
			{Name: "Popup", Available: false, Priority: "low", Reason: "already occupied"},
		},
		Language: "en",
	})
	prompt := client.lastReq.Messages[0].Content
	if !strings.Contains(prompt, "Header") {
		t.Error("prompt must mention available zone Header")
	}
	if strings.Contains(prompt, "Popup") {
		t.Error("prompt must not mention unavailable zone Popup")
	}
}

func TestComposeUnknownLanguageDefaultsToEnglish(t *testing.T) {
	client := &fakeChatClient{content: "draft"}
	proposal := testComposer(client).Compose(context.Background(), Input{
		URL:      "https://example.com/",
		Zones:    []model.AdZone{{Name: "Header", Available: true, Priority: "high"}},
		Language: "de",
	})
	if proposal.Language != "en" {
		t.Errorf("Language = %q, want en", proposal.Language)
	}
}

func TestResearchCompanyEmptyNameSkipsInference(t *testing.T) {
	client := &fakeChatClient{content: "should not be used"}
	blurb := testComposer(client).ResearchCompany(context.Background(), "", "https://example.com/", "en", "")
	if client.calls != 0 {
		t.Errorf("inference called %d times, want 0 for empty company name", client.calls)
	}
	if blurb != noResearchEn {
		t.Errorf("blurb = %q, want neutral fallback", blurb)
	}
}

func TestResearchCompanyFailureDegrades(t *testing.T) {
	client := &fakeChatClient{err: errors.New("boom")}
	blurb := testComposer(client).ResearchCompany(context.Background(), "Acme", "https://example.com/", "ru", "")
	if blurb != noResearchRu {
		t.Errorf("blurb = %q, want neutral ru fallback", blurb)
	}
}

func TestResearchCompanySuccess(t *testing.T) {
	client := &fakeChatClient{content: "Acme is a widget maker."}
	blurb := testComposer(client).ResearchCompany(context.Background(), "Acme", "https://example.com/", "en", "")
	if blurb != "Acme is a widget maker." {
		t.Errorf("blurb = %q", blurb)
	}
}
