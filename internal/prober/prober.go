package prober

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/angeloszaimis/pinger/internal/model"
)

// DefaultTimeout bounds a single probe when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxDrain caps how much of a response body is read before closing so that
// keep-alive connections can be reused.
const maxDrain = 64 << 10

// Prober checks a single URL.
type Prober interface {
	Probe(ctx context.Context, url string) model.Outcome
}

// Func adapts a plain function to the Prober interface.
type Func func(ctx context.Context, url string) model.Outcome

// Probe calls f.
func (f Func) Probe(ctx context.Context, url string) model.Outcome {
	return f(ctx, url)
}

// HTTPProber issues a GET request per probe with a hard timeout.
type HTTPProber struct {
	client *http.Client
}

// New creates an HTTPProber. A non-positive timeout falls back to
// DefaultTimeout.
func New(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Probe sends a GET to url and reports the status line or the error text,
// along with the wall-clock time the attempt took. The URL is assumed to be
// http or https already.
func (p *HTTPProber) Probe(ctx context.Context, url string) model.Outcome {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Outcome{Status: err.Error(), Elapsed: time.Since(start)}
	}
	req.Header.Set("User-Agent", "pinger/1.0")

	res, err := p.client.Do(req)
	if err != nil {
		return model.Outcome{Status: err.Error(), Elapsed: time.Since(start)}
	}
	elapsed := time.Since(start)

	_, _ = io.CopyN(io.Discard, res.Body, maxDrain)
	res.Body.Close()

	return model.Outcome{
		Status:  res.Status,
		Elapsed: elapsed,
		Success: true,
	}
}
