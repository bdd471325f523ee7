package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pulsemon/internal/sched"
)

type httpProbe struct {
	client *http.Client
	url    string
	expect int
}

// NewHTTP returns a processor that GETs url once per iteration and fails
// unless the response status matches expectStatus (default 200).
func NewHTTP(url string, timeout time.Duration, expectStatus int) sched.Processor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if expectStatus == 0 {
		expectStatus = http.StatusOK
	}
	return &httpProbe{
		client: &http.Client{Timeout: timeout},
		url:    url,
		expect: expectStatus,
	}
}

func (p *httpProbe) Process(ctx context.Context, name string, ordinal int) (sched.Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return sched.Result{}, fmt.Errorf("build request for %s: %w", p.url, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return sched.Result{}, fmt.Errorf("get %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	took := time.Since(start)
	if resp.StatusCode != p.expect {
		return sched.Result{}, fmt.Errorf("get %s: status %d, want %d", p.url, resp.StatusCode, p.expect)
	}

	return sched.Result{
		Runner:  name,
		Ordinal: ordinal,
		Summary: fmt.Sprintf("%s -> %d in %s", p.url, resp.StatusCode, took.Round(time.Millisecond)),
		Data: map[string]any{
			"url":     p.url,
			"status":  resp.StatusCode,
			"took_ms": took.Milliseconds(),
		},
	}, nil
}
