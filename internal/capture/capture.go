// Package capture drives a headless browser to produce a viewport screenshot
// of the target page.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PageLoadError carries the full per-attempt history for operator debugging
// and a single friendly sentence for the end user.
type PageLoadError struct {
	URL      string
	Attempts []model.Attempt
}

func (e *PageLoadError) Error() string {
	return fmt.Sprintf("page load failed after %d attempts: %s", len(e.Attempts), e.lastError())
}

func (e *PageLoadError) UserMessage() string {
	return "We were unable to load the website. Please try again or use a different URL."
}

func (e *PageLoadError) lastError() string {
	if len(e.Attempts) == 0 {
		return "browser did not start"
	}
	return e.Attempts[len(e.Attempts)-1].Error
}

// session is one exclusive browser instance. It is owned by the Capture call
// that opened it and must be closed by that same call on every code path.
type session interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context) ([]byte, error)
	BlockedCount() int
	Close()
}

type sessionFactory func(ctx context.Context) (session, error)

type Capturer struct {
	cfg        *config.CaptureConfig
	log        *slog.Logger
	newSession sessionFactory
}

func NewCapturer(cfg *config.CaptureConfig, log *slog.Logger) *Capturer {
	c := &Capturer{cfg: cfg, log: log}
	c.newSession = c.newBrowserSession
	return c
}

// Capture loads the page with bounded retries and returns a viewport JPEG.
// The retry loop reuses one browser instance for the whole attempt sequence;
// the browser is torn down exactly once regardless of outcome.
func (c *Capturer) Capture(ctx context.Context, target model.NormalizedURL) (*model.CaptureResult, error) {
	startTime := time.Now()

	sess, err := c.newSession(ctx)
	if err != nil {
		return nil, &PageLoadError{
			URL:      target.AbsoluteURL,
			Attempts: []model.Attempt{{Index: 1, Error: "browser launch: " + err.Error()}},
		}
	}
	defer sess.Close()

	attempts := make([]model.Attempt, 0, c.cfg.MaxRetries)
	loaded := false
	for i := 1; i <= c.cfg.MaxRetries; i++ {
		attemptStart := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		navErr := sess.Navigate(attemptCtx, target.AbsoluteURL)
		cancel()
		if navErr == nil {
			loaded = true
			break
		}
		attempts = append(attempts, model.Attempt{
			Index:     i,
			Error:     navErr.Error(),
			ElapsedMs: time.Since(attemptStart).Milliseconds(),
		})
		c.log.Warn("navigation attempt failed.", slog.String("url", target.AbsoluteURL),
			slog.Int("attempt", i), slog.String("err", navErr.Error()))
		if i < c.cfg.MaxRetries {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				attempts = append(attempts, model.Attempt{Index: i + 1, Error: ctx.Err().Error()})
				return nil, &PageLoadError{URL: target.AbsoluteURL, Attempts: attempts}
			}
		}
	}
	if !loaded {
		return nil, &PageLoadError{URL: target.AbsoluteURL, Attempts: attempts}
	}

	// Grace period for client-side rendering to paint before the shot.
	select {
	case <-time.After(c.cfg.SettleTime):
	case <-ctx.Done():
		attempts = append(attempts, model.Attempt{Index: len(attempts) + 1, Error: ctx.Err().Error()})
		return nil, &PageLoadError{URL: target.AbsoluteURL, Attempts: attempts}
	}

	img, err := sess.Screenshot(ctx)
	if err != nil {
		attempts = append(attempts, model.Attempt{Index: len(attempts) + 1, Error: "screenshot: " + err.Error()})
		return nil, &PageLoadError{URL: target.AbsoluteURL, Attempts: attempts}
	}

	result := &model.CaptureResult{
		ImageBytes:           img,
		Attempts:             len(attempts) + 1,
		BlockedResourceCount: sess.BlockedCount(),
		LoadTimeMs:           time.Since(startTime).Milliseconds(),
	}
	c.log.Debug("page captured.", slog.String("url", target.AbsoluteURL),
		slog.Int("attempts", result.Attempts), slog.Int("blocked", result.BlockedResourceCount),
		slog.Int("bytes", len(img)))

	return result, nil
}

// browserSession is the chromedp-backed implementation.
type browserSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
	cfg         *config.CaptureConfig
	blocked     atomic.Int64
}

func (c *Capturer) newBrowserSession(ctx context.Context) (session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.UserAgent(c.cfg.UserAgent),
		chromedp.WindowSize(c.cfg.ViewportWidth, c.cfg.ViewportHeight),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	s := &browserSession{
		ctx:         browserCtx,
		cancel:      cancel,
		cancelAlloc: cancelAlloc,
		cfg:         c.cfg,
	}

	blockedTypes := map[network.ResourceType]bool{
		network.ResourceTypeFont:       true,
		network.ResourceTypeStylesheet: true,
		network.ResourceTypeMedia:      true,
		network.ResourceTypeImage:      c.cfg.BlockImages,
	}
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*fetch.EventRequestPaused); ok {
			go func() {
				tc := chromedp.FromContext(browserCtx)
				execCtx := cdp.WithExecutor(browserCtx, tc.Target)
				if blockedTypes[e.ResourceType] {
					s.blocked.Add(1)
					_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
					return
				}
				_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}()
		}
	})

	// Starts the browser process and arms request interception.
	err := chromedp.Run(browserCtx,
		fetch.Enable(),
		chromedp.EmulateViewport(int64(c.cfg.ViewportWidth), int64(c.cfg.ViewportHeight)),
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *browserSession) Navigate(ctx context.Context, url string) error {
	// The CDP commands must run on a child of the session context to reach
	// the browser target, but their lifetime is bounded by the attempt
	// deadline: expiry cancels the in-flight navigation instead of leaving
	// it running behind the next attempt.
	navCtx, release := attemptContext(s.ctx, ctx)
	defer release()

	err := chromedp.Run(navCtx, chromedp.Tasks{
		enableLifecycleEvents(),
		navigateAndWaitFor(url, "DOMContentLoaded"),
	})
	if ctx.Err() != nil {
		// Stop the half-loaded page so the retry starts from an idle tab.
		_ = chromedp.Run(s.ctx, page.StopLoading())
		return ctx.Err()
	}
	return err
}

// attemptContext derives a cancellable child of sessionCtx that is also
// cancelled the moment attemptCtx is done. The returned release func must be
// called to free the watcher.
func attemptContext(sessionCtx, attemptCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(sessionCtx)
	stop := context.AfterFunc(attemptCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *browserSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		// Default capture is viewport-only; below-the-fold content is traded
		// for bounded size and speed.
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(s.cfg.JpegQuality)).
			Do(cctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *browserSession) BlockedCount() int {
	return int(s.blocked.Load())
}

func (s *browserSession) Close() {
	s.cancel()
	s.cancelAlloc()
}

func enableLifecycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

// waitFor blocks until the given page lifecycle event fires or the context is
// done. Tracker-heavy pages may never reach network idle, so callers wait on
// DOMContentLoaded.
func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	defer cancel() // drops the listener on the timeout path too
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				cancel()
				close(ch)
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
