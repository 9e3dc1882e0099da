// Package downloads implements the asset fetch pipeline: a bounded,
// deduplicating download queue with multi-waiter callback fan-out and a
// content-addressed cache of completed results.
package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CompleteFunc receives the stored asset id, or the empty string when the
// download failed.
type CompleteFunc func(id string)

// ErrorReporter receives a classified description of every failed download,
// including the source URL. The store wires this to the backend's
// image-error endpoint.
type ErrorReporter func(url, cause string)

// defaultTransferTimeout bounds a single asset transfer when no *http.Client
// is supplied.
const defaultTransferTimeout = 60 * time.Second

// task is one queued or in-flight fetch. At most one task exists per
// distinct URL across the pending list and active set; later requests for
// the same URL join its waiter list instead.
type task struct {
	url     string
	waiters []CompleteFunc
	cancel  context.CancelFunc
}

func (t *task) invoke(id string) {
	// Waiters run in registration order.
	for _, w := range t.waiters {
		w(id)
	}
}

// Queue is the download pipeline. Completed results are recorded in an
// append-only url → id cache for the process lifetime; a cache hit means the
// asset never needs fetching again.
type Queue struct {
	store      FileStore
	httpClient *http.Client
	report     ErrorReporter
	log        logrus.FieldLogger

	mu        sync.Mutex
	maxActive int
	pending   []*task
	active    map[*task]struct{}
	byURL     map[string]*task
	cached    map[string]string
	disposed  bool
}

// NewQueue creates a queue with a single download slot. SetMaxActive raises
// the limit once startup-critical assets have been fetched.
func NewQueue(store FileStore, httpClient *http.Client, report ErrorReporter, log logrus.FieldLogger) *Queue {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTransferTimeout}
	}
	return &Queue{
		store:      store,
		httpClient: httpClient,
		report:     report,
		log:        log,
		maxActive:  1,
		active:     make(map[*task]struct{}),
		byURL:      make(map[string]*task),
		cached:     make(map[string]string),
	}
}

// MaxActive returns the current concurrency limit.
func (q *Queue) MaxActive() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxActive
}

// SetMaxActive changes the concurrency limit and immediately starts pending
// tasks into any freed-up slots.
func (q *Queue) SetMaxActive(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxActive = n
	q.startNextLocked()
}

// Fetch requests url. If a task for url already exists, onComplete joins its
// waiter list and no new transfer starts; otherwise a task is enqueued in
// FIFO order. onComplete may be nil. Already-cached URLs are NOT
// short-circuited here; use Cached first when a synchronous answer is
// wanted.
func (q *Queue) Fetch(url string, onComplete CompleteFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return
	}

	if t, ok := q.byURL[url]; ok {
		if onComplete != nil {
			t.waiters = append(t.waiters, onComplete)
		}
		return
	}

	t := &task{url: url}
	if onComplete != nil {
		t.waiters = append(t.waiters, onComplete)
	}
	q.byURL[url] = t
	q.pending = append(q.pending, t)
	q.startNextLocked()
}

// Cached is a pure lookup of a completed result.
func (q *Queue) Cached(url string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.cached[url]
	return id, ok
}

// startNextLocked moves pending tasks into free slots. Must be called with
// the lock held.
func (q *Queue) startNextLocked() {
	for len(q.pending) > 0 && len(q.active) < q.maxActive {
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.active[t] = struct{}{}

		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go q.run(ctx, t)
	}
}

func (q *Queue) run(ctx context.Context, t *task) {
	id, cause := q.transfer(ctx, t.url)

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	delete(q.active, t)
	delete(q.byURL, t.url)
	if id != "" {
		q.cached[t.url] = id
	}
	q.startNextLocked()
	q.mu.Unlock()
	t.cancel()

	if cause != "" {
		q.log.WithField("url", t.url).Errorf("asset download failed: %s", cause)
		if q.report != nil {
			q.report(t.url, cause)
		}
	}

	t.invoke(id)
}

// transfer runs the per-task pipeline: fetch, validate, persist, verify.
// Every failure mode is reported the same way: a classified cause and an
// empty id.
func (q *Queue) transfer(ctx context.Context, url string) (string, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err.Error()
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return "", err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err.Error()
	}

	if err := validateAsset(data); err != nil {
		return "", fmt.Sprintf("invalid image format: %s", err)
	}

	id, err := q.store.Store(data)
	if err != nil {
		return "", fmt.Sprintf("failed to store asset: %s", err)
	}
	if stored, err := q.store.Get(id); err != nil || stored == nil {
		return "", "stored asset is not retrievable"
	}

	return id, ""
}

// Dispose forcibly releases every active transfer and clears all internal
// state. Pending waiters are abandoned, not failed.
func (q *Queue) Dispose() {
	q.mu.Lock()
	q.disposed = true
	cancels := make([]context.CancelFunc, 0, len(q.active))
	for t := range q.active {
		cancels = append(cancels, t.cancel)
	}
	q.pending = nil
	q.active = make(map[*task]struct{})
	q.byURL = make(map[string]*task)
	q.cached = make(map[string]string)
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
