package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/adlook/placement-analyzer/internal/probe"
	"github.com/adlook/placement-analyzer/internal/store"
	"github.com/adlook/placement-analyzer/internal/urlnorm"
	"github.com/adlook/placement-analyzer/internal/vision"
	"github.com/gin-gonic/gin"
)

type fakeRunner struct {
	result  *model.AnalysisResult
	err     error
	calls   int
	lastURL string
	lastKey string
}

func (f *fakeRunner) Run(_ context.Context, rawURL, apiKey string) (*model.AnalysisResult, error) {
	f.calls++
	f.lastURL = rawURL
	f.lastKey = apiKey
	return f.result, f.err
}

type fakeCapturer struct {
	result *model.CaptureResult
	err    error
}

func (f *fakeCapturer) Capture(_ context.Context, _ model.NormalizedURL) (*model.CaptureResult, error) {
	return f.result, f.err
}

func testServer(runner *fakeRunner, capturer *fakeCapturer, apiKey string) (*Server, store.AnalysisStore) {
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st := store.NewEphemeralStore(&config.CacheConfig{
		TtlForAnalysis:  time.Minute,
		CleanupInterval: time.Minute,
	}, log)
	cfg := &config.Config{
		ServiceName:    "placement-analyzer",
		Version:        "test",
		OpenAISettings: &config.OpenAIConfig{APIKey: apiKey},
	}
	return New(runner, capturer, st, cfg, log), st
}

func happyResult() *model.AnalysisResult {
	return &model.AnalysisResult{
		Success:  true,
		URL:      "https://example.com/",
		Zones:    []model.AdZone{{Name: "Header", Available: true, Priority: "high"}},
		Language: "en",
		Emails:   []string{},
		Proposal: "A proposal without any asterisk characters.",
	}
}

func doRequest(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeSuccess(t *testing.T) {
	runner := &fakeRunner{result: happyResult()}
	s, st := testServer(runner, &fakeCapturer{}, "configured-key")

	rec := doRequest(t, s, http.MethodPost, "/analyze", `{"url":"example.com"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var result model.AnalysisResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Error("success = false")
	}
	if result.AnalysisID == "" {
		t.Fatal("missing analysis_id")
	}
	if strings.Contains(result.Proposal, "*") {
		t.Errorf("proposal contains asterisk: %q", result.Proposal)
	}
	if _, ok := st.Get(result.AnalysisID); !ok {
		t.Error("result not cached under its analysis_id")
	}
	if runner.lastURL != "example.com" {
		t.Errorf("runner got url %q", runner.lastURL)
	}
}

func TestAnalyzeEmptyURL(t *testing.T) {
	runner := &fakeRunner{result: happyResult()}
	s, _ := testServer(runner, &fakeCapturer{}, "key")

	rec := doRequest(t, s, http.MethodPost, "/analyze", `{"url":""}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if runner.calls != 0 {
		t.Error("pipeline must not run for empty url")
	}
}

func TestAnalyzeMalformedBody(t *testing.T) {
	s, _ := testServer(&fakeRunner{}, &fakeCapturer{}, "key")
	rec := doRequest(t, s, http.MethodPost, "/analyze", `{not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var resp model.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("error response is not valid JSON: %v", err)
	}
	if resp.Error == "" {
		t.Error("error field must be human-readable, got empty")
	}
}

func TestAnalyzeMissingCredential(t *testing.T) {
	runner := &fakeRunner{result: happyResult()}
	s, _ := testServer(runner, &fakeCapturer{}, "")

	rec := doRequest(t, s, http.MethodPost, "/analyze", `{"url":"example.com"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	// A per-request header key unblocks the call.
	rec = doRequest(t, s, http.MethodPost, "/analyze", `{"url":"example.com"}`,
		map[string]string{"X-OpenAI-Key": "header-key"})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with header credential", rec.Code)
	}
	if runner.lastKey != "header-key" {
		t.Errorf("runner got key %q, want header-key", runner.lastKey)
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid url", urlnorm.ErrInvalidURL, http.StatusBadRequest},
		{
			"unreachable",
			&probe.UnreachableError{Kind: model.FailureConnectionRefused, Err: errors.New("refused")},
			http.StatusGatewayTimeout,
		},
		{"missing credential", vision.ErrMissingCredential, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := testServer(&fakeRunner{err: tt.err}, &fakeCapturer{}, "key")
			rec := doRequest(t, s, http.MethodPost, "/analyze", `{"url":"example.com"}`, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp model.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("error response is not valid JSON: %v", err)
			}
			if resp.Success {
				t.Error("success = true on error response")
			}
			if resp.Error == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestAnalyzeWrongMethod(t *testing.T) {
	s, _ := testServer(&fakeRunner{}, &fakeCapturer{}, "key")
	rec := doRequest(t, s, http.MethodGet, "/analyze", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := testServer(&fakeRunner{}, &fakeCapturer{}, "key")
	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestScreenshotEndpoint(t *testing.T) {
	capturer := &fakeCapturer{result: &model.CaptureResult{
		ImageBytes:           []byte("jpeg-bytes"),
		Attempts:             2,
		BlockedResourceCount: 5,
		LoadTimeMs:           1234,
	}}
	s, _ := testServer(&fakeRunner{}, capturer, "key")

	rec := doRequest(t, s, http.MethodPost, "/screenshot", `{"url":"example.com"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp screenshotResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Error("success = false")
	}
	if !strings.HasPrefix(resp.Screenshot, "data:image/jpeg;base64,") {
		t.Errorf("screenshot = %q, want data URL", resp.Screenshot)
	}
	if resp.Metadata.Attempts != 2 || resp.Metadata.BlockedResourceCount != 5 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
}

func TestExportEndpoints(t *testing.T) {
	s, st := testServer(&fakeRunner{}, &fakeCapturer{}, "key")
	st.Put("known-id", &model.AnalysisResult{Proposal: "Offer text"})

	rec := doRequest(t, s, http.MethodGet, "/export-docx/known-id", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("docx status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "wordprocessingml") {
		t.Errorf("docx Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("docx Content-Disposition = %q", cd)
	}

	rec = doRequest(t, s, http.MethodGet, "/export-pdf/known-id", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("pdf status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("pdf Content-Type = %q", ct)
	}

	for _, path := range []string{"/export-docx/unknown", "/export-pdf/unknown"} {
		rec = doRequest(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestAnalysisLookupAndDelete(t *testing.T) {
	s, st := testServer(&fakeRunner{}, &fakeCapturer{}, "key")
	st.Put("known-id", happyResult())

	rec := doRequest(t, s, http.MethodGet, "/analysis/known-id", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, s, http.MethodDelete, "/analysis/known-id", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/analysis/known-id", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s, _ := testServer(&fakeRunner{}, &fakeCapturer{}, "key")
	rec := doRequest(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
