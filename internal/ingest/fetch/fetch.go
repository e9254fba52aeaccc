// Package fetch resolves a repository id to its home server and
// downloads the repository's merkle-repo archive as a byte stream.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// FetchFailed is returned once retries are exhausted.
type FetchFailed struct {
	ID  string
	Err error
}

func (e *FetchFailed) Error() string {
	return fmt.Sprintf("fetch: %s: giving up: %v", e.ID, e.Err)
}

func (e *FetchFailed) Unwrap() error { return e.Err }

const (
	maxAttempts  = 5
	initialDelay = 500 * time.Millisecond
	maxDelay     = 60 * time.Second
)

// Fetcher resolves repository ids and downloads archives over HTTPS.
type Fetcher struct {
	dir    identity.Directory
	client *http.Client
}

// NewFetcher builds a Fetcher around the given identity directory
// (identity.DefaultDirectory() in production; a fake in tests), wrapping
// the shared HTTP transport with otelhttp so Repository Fetcher requests
// are traced the same way the rest of the system's outbound calls are.
func NewFetcher(dir identity.Directory) *Fetcher {
	return &Fetcher{
		dir: dir,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// FetchArchive resolves id's PDS endpoint and GETs its full repository
// archive. The returned ReadCloser streams the CAR body directly from
// the HTTP response; callers must Close it.
func (f *Fetcher) FetchArchive(ctx context.Context, id string) (io.ReadCloser, error) {
	did, err := syntax.ParseDID(id)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid repository id %q: %w", id, err)
	}

	ident, err := f.dir.LookupDID(ctx, did)
	if err != nil {
		return nil, &FetchFailed{ID: id, Err: fmt.Errorf("directory lookup: %w", err)}
	}
	endpoint := ident.PDSEndpoint()
	if endpoint == "" {
		return nil, &FetchFailed{ID: id, Err: fmt.Errorf("no PDS endpoint in identity document")}
	}

	url := fmt.Sprintf("%s/xrpc/com.atproto.sync.getRepo?did=%s", endpoint, id)

	var lastErr error
	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch: build request: %w", err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.Body, nil
		} else {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, &FetchFailed{ID: id, Err: ctx.Err()}
		case <-time.After(jitter(delay)):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return nil, &FetchFailed{ID: id, Err: lastErr}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
