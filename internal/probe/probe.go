// Package probe performs a cheap reachability pre-check so the pipeline never
// pays for a browser launch against a host that does not answer at all.
package probe

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
)

// UnreachableError is fatal to the pipeline; the caller maps it to a
// 504-class response.
type UnreachableError struct {
	Kind model.FailureKind
	URL  string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("target unreachable (%s): %v", e.Kind, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// UserMessage returns the sentence shown to the end user for this failure.
func (e *UnreachableError) UserMessage() string {
	switch e.Kind {
	case model.FailureDNSNotFound:
		return "We could not resolve that domain. Please confirm the URL is correct and publicly accessible."
	case model.FailureDNSTimeout:
		return "Domain name lookup timed out. Please try again in a moment."
	case model.FailureConnectionRefused:
		return "We were unable to reach the website. The server may be offline or blocking requests."
	case model.FailureSSL:
		return "The site's SSL certificate could not be verified. Please check the URL."
	case model.FailureTimeout:
		return "The website took too long to respond. Please try again or choose a lighter page."
	default:
		return "We were unable to load the website. Please try again with a valid URL."
	}
}

type Prober struct {
	client *http.Client
	cfg    *config.ProbeConfig
	log    *slog.Logger
}

func NewProber(cfg *config.ProbeConfig, log *slog.Logger) *Prober {
	return &Prober{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log,
	}
}

// Check issues a HEAD request and, on network-level failure, falls back once
// to a GET whose body is closed immediately. HTTP error statuses still count
// as reachable: a 403 or 500 proves the host answers.
func (p *Prober) Check(ctx context.Context, target model.NormalizedURL) (*model.Reachability, error) {
	status, headErr := p.request(ctx, http.MethodHead, target.AbsoluteURL)
	if headErr == nil {
		return &model.Reachability{Reachable: true, FailureKind: model.FailureNone, HTTPStatus: status}, nil
	}
	p.log.Debug("head probe failed, falling back to get.",
		slog.String("url", target.AbsoluteURL), slog.String("err", headErr.Error()))

	status, getErr := p.request(ctx, http.MethodGet, target.AbsoluteURL)
	if getErr == nil {
		return &model.Reachability{Reachable: true, FailureKind: model.FailureNone, HTTPStatus: status}, nil
	}

	kind := Classify(getErr)
	p.log.Warn("reachability probe failed.", slog.String("url", target.AbsoluteURL),
		slog.String("kind", kind.String()), slog.String("err", getErr.Error()))

	return &model.Reachability{Reachable: false, FailureKind: kind},
		&UnreachableError{Kind: kind, URL: target.AbsoluteURL, Err: getErr}
}

func (p *Prober) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	// The body is never wanted; close right away to avoid downloading content.
	resp.Body.Close()

	return resp.StatusCode, nil
}

// Classify maps a network error onto a stable failure kind. It checks typed
// errors first and falls back to substring matching, mirroring how headless
// browser and HTTP stack errors actually surface in practice.
func Classify(err error) model.FailureKind {
	if err == nil {
		return model.FailureNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return model.FailureDNSTimeout
		}
		return model.FailureDNSNotFound
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.FailureConnectionRefused
	}
	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &invErr) {
		return model.FailureSSL
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "name_not_resolved"):
		return model.FailureDNSNotFound
	case strings.Contains(msg, "connection refused"):
		return model.FailureConnectionRefused
	case strings.Contains(msg, "certificate"), strings.Contains(msg, "tls"), strings.Contains(msg, "x509"):
		return model.FailureSSL
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return model.FailureTimeout
	default:
		return model.FailureUnknown
	}
}
