package probe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/adlook/placement-analyzer/internal/urlnorm"
)

func testProber(timeout time.Duration) *Prober {
	return NewProber(&config.ProbeConfig{
		Timeout:   timeout,
		UserAgent: "probe-test",
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestCheckReachableHost(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	target, err := urlnorm.Normalize(ts.URL)
	if err != nil {
		t.Fatal(err)
	}

	result, err := testProber(2*time.Second).Check(context.Background(), target)
	if err != nil {
		t.Fatalf("Check() unexpected error: %v", err)
	}
	if !result.Reachable {
		t.Error("Reachable = false, want true")
	}
	if result.FailureKind != model.FailureNone {
		t.Errorf("FailureKind = %s, want none", result.FailureKind)
	}
	if result.HTTPStatus != http.StatusOK {
		t.Errorf("HTTPStatus = %d, want 200", result.HTTPStatus)
	}
}

func TestCheckHTTPErrorStatusStillReachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	target, _ := urlnorm.Normalize(ts.URL)
	result, err := testProber(2*time.Second).Check(context.Background(), target)
	if err != nil {
		t.Fatalf("Check() unexpected error: %v", err)
	}
	if !result.Reachable {
		t.Error("5xx response must still count as reachable")
	}
	if result.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want 500", result.HTTPStatus)
	}
}

func TestCheckHeadFallsBackToGet(t *testing.T) {
	var sawGet bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// Kill the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		sawGet = true
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	target, _ := urlnorm.Normalize(ts.URL)
	result, err := testProber(2*time.Second).Check(context.Background(), target)
	if err != nil {
		t.Fatalf("Check() unexpected error: %v", err)
	}
	if !sawGet {
		t.Error("expected GET fallback after HEAD failure")
	}
	if !result.Reachable {
		t.Error("Reachable = false, want true after GET fallback")
	}
}

func TestCheckConnectionRefused(t *testing.T) {
	// Reserve a port, then close the listener so connections are refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	target, _ := urlnorm.Normalize("http://" + addr)
	result, err := testProber(2*time.Second).Check(context.Background(), target)
	if err == nil {
		t.Fatal("Check() expected error for refused connection")
	}
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error = %T, want *UnreachableError", err)
	}
	if unreachable.Kind != model.FailureConnectionRefused {
		t.Errorf("Kind = %s, want connection_refused", unreachable.Kind)
	}
	if result.Reachable {
		t.Error("Reachable = true, want false")
	}
	if unreachable.UserMessage() == "" {
		t.Error("UserMessage() must not be empty")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.FailureKind
	}{
		{"nil", nil, model.FailureNone},
		{"dns not found", &net.DNSError{Err: "no such host", IsNotFound: true}, model.FailureDNSNotFound},
		{"dns timeout", &net.DNSError{Err: "lookup timed out", IsTimeout: true}, model.FailureDNSTimeout},
		{"connection refused", syscall.ECONNREFUSED, model.FailureConnectionRefused},
		{"deadline exceeded", context.DeadlineExceeded, model.FailureTimeout},
		{"tls substring", errors.New("remote error: tls: handshake failure"), model.FailureSSL},
		{"certificate substring", errors.New("x509: certificate signed by unknown authority"), model.FailureSSL},
		{"generic", errors.New("something else entirely"), model.FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
