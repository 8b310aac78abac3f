// Package urlnorm canonicalizes user-supplied addresses before any network
// work is spent on them.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/adlook/placement-analyzer/internal/model"
)

// ErrInvalidURL marks input that cannot be turned into an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid url")

// Normalize trims the input, prepends https:// when no scheme is present and
// parses the result. It is pure and idempotent: normalizing an already
// normalized URL yields the same string.
func Normalize(raw string) (model.NormalizedURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return model.NormalizedURL{}, fmt.Errorf("%w: empty input", ErrInvalidURL)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return model.NormalizedURL{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.NormalizedURL{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return model.NormalizedURL{}, fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return model.NormalizedURL{
		AbsoluteURL: u.String(),
		Hostname:    u.Hostname(),
	}, nil
}
