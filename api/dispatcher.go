// Package api implements the wire client for the store backend: a
// fire-and-forget HTTP dispatch substrate and the keyed request client that
// classifies backend responses.
package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultRequestTimeout bounds a single backend call when the caller did not
// supply an *http.Client of their own.
const defaultRequestTimeout = 30 * time.Second

// CompleteFunc receives the response body and the transport error message
// (empty on transport success) of one dispatched call.
type CompleteFunc func(body string, errMsg string)

// Dispatcher executes asynchronous HTTP calls, one goroutine per call, with
// no shared concurrency limit. Every in-flight call is tracked so Dispose
// can forcibly release all outstanding transports at shutdown without
// invoking their callbacks.
type Dispatcher struct {
	httpClient *http.Client

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	disposed bool
}

// NewDispatcher creates a dispatcher. A nil httpClient gets a default client
// with a request timeout; timeout semantics beyond that are the transport's
// business.
func NewDispatcher(httpClient *http.Client) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Dispatcher{
		httpClient: httpClient,
		inFlight:   make(map[string]context.CancelFunc),
	}
}

// Request issues one asynchronous call: a form-encoded POST when fields are
// present, a plain GET otherwise. onComplete is invoked exactly once, unless
// the dispatcher is disposed first, in which case it is never invoked.
func (d *Dispatcher) Request(rawURL string, fields map[string]string, onComplete CompleteFunc) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	d.inFlight[id] = cancel
	d.mu.Unlock()

	go func() {
		body, errMsg := d.do(ctx, rawURL, fields)

		d.mu.Lock()
		_, live := d.inFlight[id]
		delete(d.inFlight, id)
		d.mu.Unlock()
		cancel()

		// A call released by Dispose is abandoned, not failed.
		if !live {
			return
		}
		if onComplete != nil {
			onComplete(body, errMsg)
		}
	}()
}

func (d *Dispatcher) do(ctx context.Context, rawURL string, fields map[string]string) (string, string) {
	var req *http.Request
	var err error

	if fields == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	} else {
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return "", err.Error()
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err.Error()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err.Error()
	}

	return string(body), ""
}

// Dispose cancels every outstanding transport and marks the dispatcher dead.
// Callbacks of in-flight calls are dropped, and later Request calls are
// no-ops.
func (d *Dispatcher) Dispose() {
	d.mu.Lock()
	d.disposed = true
	cancels := make([]context.CancelFunc, 0, len(d.inFlight))
	for _, cancel := range d.inFlight {
		cancels = append(cancels, cancel)
	}
	d.inFlight = make(map[string]context.CancelFunc)
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
