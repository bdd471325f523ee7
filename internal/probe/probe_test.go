package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProbeOK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, 5*time.Second, http.StatusNoContent)
	res, err := p.Process(context.Background(), "web", 7)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Runner != "web" || res.Ordinal != 7 {
		t.Fatalf("result attribution = %s/%d, want web/7", res.Runner, res.Ordinal)
	}
	if res.Data["status"] != http.StatusNoContent {
		t.Fatalf("status = %v, want %d", res.Data["status"], http.StatusNoContent)
	}
}

func TestHTTPProbeWrongStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, 5*time.Second, http.StatusOK)
	if _, err := p.Process(context.Background(), "web", 1); err == nil {
		t.Fatal("expected error for unexpected status")
	} else if !strings.Contains(err.Error(), "503") {
		t.Fatalf("error = %v, want mention of status 503", err)
	}
}

func TestHTTPProbeConnectionRefused(t *testing.T) {
	t.Parallel()
	// Reserve a port, then close it so nothing is listening.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewHTTP(url, time.Second, http.StatusOK)
	if _, err := p.Process(context.Background(), "web", 1); err == nil {
		t.Fatal("expected error for refused connection")
	}
}

func TestCommandProbeOK(t *testing.T) {
	t.Parallel()
	p := NewCommand("sh", []string{"-c", "echo checked"})
	res, err := p.Process(context.Background(), "backup", 3)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Ordinal != 3 {
		t.Fatalf("ordinal = %d, want 3", res.Ordinal)
	}
	if out, _ := res.Data["output"].(string); out != "checked" {
		t.Fatalf("output = %q, want %q", out, "checked")
	}
}

func TestCommandProbeNonZeroExit(t *testing.T) {
	t.Parallel()
	p := NewCommand("sh", []string{"-c", "echo broken >&2; exit 3"})
	_, err := p.Process(context.Background(), "backup", 1)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error = %v, want captured output", err)
	}
}

func TestCommandProbeHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewCommand("sleep", []string{"10"})
	start := time.Now()
	if _, err := p.Process(ctx, "backup", 1); err == nil {
		t.Fatal("expected error from canceled context")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("command was not killed on context cancellation")
	}
}
