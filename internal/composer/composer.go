// Package composer turns zone classifications and company data into a
// natural-language sales draft. Both the research and the draft are
// enrichments: inference failures degrade to fixed text, never errors.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/sashabaranov/go-openai"
)

const (
	noZonesRu = "К сожалению, на сайте не найдено свободных рекламных зон для размещения."
	noZonesEn = "Unfortunately, no available ad zones were found on this website."

	failedRu = "Не удалось сгенерировать коммерческое предложение. Пожалуйста, попробуйте ещё раз."
	failedEn = "Failed to generate a proposal. Please try again."

	noResearchRu = "Информация о компании не найдена."
	noResearchEn = "No public information about the company was found."
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Input carries everything the proposal draft is personalized with.
type Input struct {
	URL         string
	Zones       []model.AdZone
	Language    string
	CompanyName string
	OwnerInfo   string
	APIKey      string
}

type Composer struct {
	cfg        *config.OpenAIConfig
	composeCfg *config.ComposerConfig
	log        *slog.Logger
	newClient  func(apiKey string) chatClient
}

func NewComposer(cfg *config.OpenAIConfig, composeCfg *config.ComposerConfig, log *slog.Logger) *Composer {
	c := &Composer{cfg: cfg, composeCfg: composeCfg, log: log}
	c.newClient = func(apiKey string) chatClient {
		clientCfg := openai.DefaultConfig(apiKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		return openai.NewClientWithConfig(clientCfg)
	}
	return c
}

// Compose drafts the sales proposal. With zero available zones it returns the
// fixed per-language sentence without spending an inference call. The result
// never contains a literal asterisk: the prompt forbids them and the output
// is stripped as a hard guarantee.
func (c *Composer) Compose(ctx context.Context, in Input) *model.Proposal {
	language := normalizeLanguage(in.Language)

	available := make([]model.AdZone, 0, len(in.Zones))
	for _, z := range in.Zones {
		if z.Available {
			available = append(available, z)
		}
	}
	if len(available) == 0 {
		return &model.Proposal{Text: pick(language, noZonesRu, noZonesEn), Language: language}
	}

	apiKey := in.APIKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}

	resp, err := c.newClient(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.TextModel,
		MaxTokens:   c.composeCfg.MaxTokens,
		Temperature: float32(c.composeCfg.Temperature),
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: proposalPrompt(in, available, language),
		}},
	})
	if err != nil || len(resp.Choices) == 0 {
		if err != nil {
			c.log.Error("proposal generation failed.", slog.String("url", in.URL),
				slog.String("err", err.Error()))
		}
		return &model.Proposal{Text: pick(language, failedRu, failedEn), Language: language}
	}

	text := strings.ReplaceAll(resp.Choices[0].Message.Content, "*", "")
	return &model.Proposal{Text: strings.TrimSpace(text), Language: language}
}

// ResearchCompany runs a small supplementary completion keyed off the company
// name and returns a short free-text blurb. Missing name or any failure
// yields a neutral sentence.
func (c *Composer) ResearchCompany(ctx context.Context, companyName, siteURL, language, apiKey string) string {
	language = normalizeLanguage(language)
	if companyName == "" {
		return pick(language, noResearchRu, noResearchEn)
	}
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}

	resp, err := c.newClient(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.TextModel,
		MaxTokens: 500,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: researchPrompt(companyName, siteURL, language),
		}},
	})
	if err != nil || len(resp.Choices) == 0 {
		if err != nil {
			c.log.Warn("company research failed.", slog.String("company", companyName),
				slog.String("err", err.Error()))
		}
		return pick(language, noResearchRu, noResearchEn)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

func proposalPrompt(in Input, available []model.AdZone, language string) string {
	var zones strings.Builder
	for i, z := range available {
		fmt.Fprintf(&zones, "%d. %s (%s priority", i+1, z.Name, z.Priority)
		if z.SizeHint != "" {
			fmt.Fprintf(&zones, ", %s", z.SizeHint)
		}
		zones.WriteString(")")
		if z.Reason != "" {
			fmt.Fprintf(&zones, " — %s", z.Reason)
		}
		zones.WriteString("\n")
	}

	company := in.CompanyName
	ownerInfo := in.OwnerInfo

	if language == "ru" {
		if company == "" {
			company = "Владелец сайта"
		}
		if ownerInfo == "" {
			ownerInfo = "Не найдена"
		}
		return fmt.Sprintf(`Сгенерируй персонализированное коммерческое предложение на РУССКОМ языке о размещении рекламы.

Сайт: %s
Компания: %s
Информация о владельце: %s
Доступные рекламные места:
%s
Напиши профессиональное письмо по структуре:
1. Приветствие (персонализированное, если есть имя)
2. Конкретный комплимент про их сайт или контент
3. Кратко про платформу Adlook
4. Перечисление рекламных возможностей с обоснованием
5. Ценностное предложение
6. Призыв к действию

Строго без символов звёздочки (*). Профессиональный тон.`, in.URL, company, ownerInfo, zones.String())
	}

	if company == "" {
		company = "Website owner"
	}
	if ownerInfo == "" {
		ownerInfo = "Not available"
	}
	return fmt.Sprintf(`Generate a personalized commercial proposal in ENGLISH for advertising placement.

Website: %s
Company: %s
Owner info: %s
Available ad zones:
%s
Write a professional email following this structure:
1. Greeting (personalized if an owner name is available)
2. A concrete compliment about their website or content
3. A short pitch of the Adlook platform
4. The list of advertising opportunities with reasoning
5. A value proposition
6. A call to action

Do not use literal asterisk (*) characters anywhere. Professional and persuasive tone.`,
		in.URL, company, ownerInfo, zones.String())
}

func researchPrompt(companyName, siteURL, language string) string {
	if language == "ru" {
		return fmt.Sprintf(`Найди общедоступную информацию о компании "%s" (сайт: %s): полное название и юридическая форма, имя руководителя (если доступно), основная деятельность, интересные факты. Если информации нет — честно напиши, что не найдено. Верни короткий отчёт (3-5 предложений) на русском языке.`,
			companyName, siteURL)
	}
	return fmt.Sprintf(`Find publicly available information about the company "%s" (website: %s): full legal name, the director's name if available, main line of business, notable facts. If nothing is known, say so honestly. Return a short report (3-5 sentences) in English.`,
		companyName, siteURL)
}

func normalizeLanguage(language string) string {
	if strings.EqualFold(language, "ru") {
		return "ru"
	}
	return "en"
}

func pick(language, ru, en string) string {
	if language == "ru" {
		return ru
	}
	return en
}
