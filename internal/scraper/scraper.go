// Package scraper extracts contact and company metadata from page HTML. It is
// an enrichment path: it shares nothing with the browser capture and never
// fails the pipeline.
package scraper

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/gocolly/colly"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	// Common legal-form prefixes seen in site footers.
	legalEntityRe = regexp.MustCompile(`(ООО|ИП|АО|ЗАО|ПАО)\s+["«]?([^"»\n]+)["»]?`)
)

type Scraper struct {
	cfg *config.ScraperConfig
	log *slog.Logger
}

func NewScraper(cfg *config.ScraperConfig, log *slog.Logger) *Scraper {
	return &Scraper{cfg: cfg, log: log}
}

// Scrape fetches the page HTML and pulls out emails and company identity.
// Any internal error (timeout, network, parse) yields an empty contact
// instead of propagating: contact info is an enrichment, not the deliverable.
func (s *Scraper) Scrape(ctx context.Context, target model.NormalizedURL) *model.ScrapedContact {
	contact := &model.ScrapedContact{Emails: []string{}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("scraper panicked, returning empty contact.", slog.Any("err", r))
			}
		}()
		s.collect(target, contact)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scrape cancelled by deadline.", slog.String("url", target.AbsoluteURL))
		return &model.ScrapedContact{Emails: []string{}}
	}

	return contact
}

func (s *Scraper) collect(target model.NormalizedURL, contact *model.ScrapedContact) {
	var (
		emails     []string
		ogSiteName string
		metaAuthor string
		footerText strings.Builder
	)

	c := colly.NewCollector()
	c.SetRequestTimeout(s.cfg.Timeout)
	c.UserAgent = s.cfg.UserAgent

	c.OnResponse(func(resp *colly.Response) {
		emails = append(emails, emailRe.FindAllString(string(resp.Body), -1)...)
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if strings.HasPrefix(href, "mailto:") {
			addr := strings.TrimPrefix(href, "mailto:")
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			emails = append(emails, addr)
		}
	})
	c.OnHTML("title", func(e *colly.HTMLElement) {
		if contact.PageTitle == "" {
			contact.PageTitle = strings.TrimSpace(e.Text)
		}
	})
	c.OnHTML(`meta[property="og:site_name"]`, func(e *colly.HTMLElement) {
		ogSiteName = strings.TrimSpace(e.Attr("content"))
	})
	c.OnHTML(`meta[name="author"]`, func(e *colly.HTMLElement) {
		metaAuthor = strings.TrimSpace(e.Attr("content"))
	})
	c.OnHTML(`meta[name="description"]`, func(e *colly.HTMLElement) {
		contact.Description = strings.TrimSpace(e.Attr("content"))
	})
	c.OnHTML("footer", func(e *colly.HTMLElement) {
		footerText.WriteString(e.Text)
		footerText.WriteString("\n")
	})
	c.OnError(func(_ *colly.Response, err error) {
		s.log.Warn("scrape request failed.", slog.String("url", target.AbsoluteURL),
			slog.String("err", err.Error()))
	})

	if err := c.Visit(target.AbsoluteURL); err != nil {
		s.log.Warn("scrape visit failed.", slog.String("url", target.AbsoluteURL),
			slog.String("err", err.Error()))
		return
	}

	contact.Emails = dedupeEmails(emails)
	contact.CompanyName = deriveCompanyName(ogSiteName, metaAuthor, contact.PageTitle, footerText.String())

	s.log.Debug("scrape complete.", slog.Int("emails", len(contact.Emails)),
		slog.String("company", contact.CompanyName))
}

// dedupeEmails filters candidates lacking "@" and deduplicates
// case-sensitively, preserving first-seen order.
func dedupeEmails(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	result := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || !strings.Contains(c, "@") {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		result = append(result, c)
	}
	return result
}

// deriveCompanyName walks the priority-ordered fallback chain: Open Graph
// site name, author meta, first title segment, footer legal-entity match.
func deriveCompanyName(ogSiteName, metaAuthor, title, footer string) string {
	if ogSiteName != "" {
		return ogSiteName
	}
	if metaAuthor != "" {
		return metaAuthor
	}
	if title != "" {
		segment := title
		if i := strings.IndexAny(segment, "|"); i >= 0 {
			segment = segment[:i]
		} else if i := strings.Index(segment, " - "); i >= 0 {
			segment = segment[:i]
		}
		if segment = strings.TrimSpace(segment); segment != "" {
			return segment
		}
	}
	if match := legalEntityRe.FindString(footer); match != "" {
		return strings.TrimSpace(match)
	}
	return ""
}
