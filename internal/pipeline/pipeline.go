// Package pipeline sequences the analysis stages, aggregates partial
// failures, and enforces timeout discipline: every external call carries its
// own bounded deadline so a graceful error is returned before the platform
// ceiling kills the request.
package pipeline

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/composer"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/adlook/placement-analyzer/internal/urlnorm"
	"github.com/adlook/placement-analyzer/internal/vision"
)

type Prober interface {
	Check(ctx context.Context, target model.NormalizedURL) (*model.Reachability, error)
}

type Capturer interface {
	Capture(ctx context.Context, target model.NormalizedURL) (*model.CaptureResult, error)
}

type Optimizer interface {
	Optimize(raw []byte) *model.OptimizedImage
}

type Analyzer interface {
	Analyze(ctx context.Context, target model.NormalizedURL, img *model.OptimizedImage,
		apiKey string) (*vision.Analysis, error)
}

type Scraper interface {
	Scrape(ctx context.Context, target model.NormalizedURL) *model.ScrapedContact
}

type Composer interface {
	Compose(ctx context.Context, in composer.Input) *model.Proposal
	ResearchCompany(ctx context.Context, companyName, siteURL, language, apiKey string) string
}

type Pipeline struct {
	Prober   Prober
	Capturer Capturer
	Optimize Optimizer
	Analyzer Analyzer
	Scraper  Scraper
	Composer Composer
	Cfg      *config.Config
	Log      *slog.Logger
}

// Run executes the full analysis for one raw URL. Stage order: normalize and
// probe are hard gates; capture failure aborts; optimize never aborts;
// analyze failure aborts; scraping runs concurrently from the moment the
// probe passes and never aborts; research and compose degrade internally.
func (p *Pipeline) Run(ctx context.Context, rawURL, apiKey string) (*model.AnalysisResult, error) {
	totalStart := time.Now()
	perf := &model.Performance{}

	ctx, cancel := context.WithTimeout(ctx, p.Cfg.PipelineSettings.RequestCeiling)
	defer cancel()

	// Stage 1: normalize (hard gate, pure).
	stageStart := time.Now()
	target, err := urlnorm.Normalize(rawURL)
	perf.NormalizeMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, err
	}
	log := p.Log.With(slog.String("url", target.AbsoluteURL))

	// Stage 2: probe (hard gate; cheap check before paying for a browser).
	stageStart = time.Now()
	probeCtx, probeCancel := context.WithTimeout(ctx, p.Cfg.ProbeSettings.Timeout)
	_, err = p.Prober.Check(probeCtx, target)
	probeCancel()
	perf.ProbeMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	// Stage 6 starts early: scraping shares no data with the capture path,
	// so it overlaps the expensive browser work. Result assembly waits on it.
	type scrapeOut struct {
		contact   *model.ScrapedContact
		elapsedMs int64
	}
	scrapeCh := make(chan scrapeOut, 1)
	go func() {
		start := time.Now()
		scrapeCtx, scrapeCancel := context.WithTimeout(ctx, p.Cfg.ScraperSettings.Timeout)
		defer scrapeCancel()
		contact := p.Scraper.Scrape(scrapeCtx, target)
		scrapeCh <- scrapeOut{contact: contact, elapsedMs: time.Since(start).Milliseconds()}
	}()

	// Stage 3: capture (aborts with diagnostic-rich error).
	stageStart = time.Now()
	captured, err := p.Capturer.Capture(ctx, target)
	perf.CaptureMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	// Stage 4: optimize (never aborts).
	stageStart = time.Now()
	optimized := p.Optimize.Optimize(captured.ImageBytes)
	perf.OptimizeMs = time.Since(stageStart).Milliseconds()

	// Stage 5: analyze (aborts; no proposal can be composed without zones).
	stageStart = time.Now()
	analyzeCtx, analyzeCancel := context.WithTimeout(ctx, p.Cfg.OpenAISettings.RequestTimeout)
	analysis, err := p.Analyzer.Analyze(analyzeCtx, target, optimized, apiKey)
	analyzeCancel()
	perf.AnalyzeMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	scraped := <-scrapeCh
	perf.ScrapeMs = scraped.elapsedMs
	contact := scraped.contact

	// Stage 7: research + compose (both degrade internally, never abort).
	stageStart = time.Now()
	composeCtx, composeCancel := context.WithTimeout(ctx, p.Cfg.OpenAISettings.RequestTimeout)
	ownerInfo := p.Composer.ResearchCompany(composeCtx, contact.CompanyName, target.AbsoluteURL,
		analysis.Language, apiKey)
	proposal := p.Composer.Compose(composeCtx, composer.Input{
		URL:         target.AbsoluteURL,
		Zones:       analysis.Zones,
		Language:    analysis.Language,
		CompanyName: contact.CompanyName,
		OwnerInfo:   ownerInfo,
		APIKey:      apiKey,
	})
	composeCancel()
	perf.ComposeMs = time.Since(stageStart).Milliseconds()

	perf.TotalMs = time.Since(totalStart).Milliseconds()
	log.Info("analysis complete.", slog.Int("zones", len(analysis.Zones)),
		slog.Int("emails", len(contact.Emails)), slog.Int64("total_ms", perf.TotalMs))

	return &model.AnalysisResult{
		Success:     true,
		URL:         target.AbsoluteURL,
		Screenshot:  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(optimized.Bytes),
		Zones:       analysis.Zones,
		Language:    proposal.Language,
		Emails:      contact.Emails,
		CompanyName: contact.CompanyName,
		PageTitle:   contact.PageTitle,
		Description: contact.Description,
		OwnerInfo:   ownerInfo,
		Proposal:    proposal.Text,
		Capture: &model.CaptureResult{
			Attempts:             captured.Attempts,
			BlockedResourceCount: captured.BlockedResourceCount,
			LoadTimeMs:           captured.LoadTimeMs,
		},
		Performance: perf,
	}, nil
}
