package downloads

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))); err != nil {
		t.Fatalf("failed to encode png: %s", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(3 * time.Second):
		t.Fatal("download never completed")
		return ""
	}
}

func TestQueueDownloadsAndCaches(t *testing.T) {
	icon := pngBytes(t, 16)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(icon)
	}))
	defer server.Close()

	store := NewMemoryFileStore()
	q := NewQueue(store, nil, nil, testLogger())

	ids := make(chan string, 1)
	q.Fetch(server.URL, func(id string) { ids <- id })

	id := waitFor(t, ids)
	require.NotEmpty(t, id)

	data, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, icon, data)

	cached, ok := q.Cached(server.URL)
	assert.True(t, ok)
	assert.Equal(t, id, cached)
	assert.Equal(t, int32(1), hits.Load())
}

func TestQueueDeduplicatesWaiters(t *testing.T) {
	icon := pngBytes(t, 16)
	release := make(chan struct{})
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write(icon)
	}))
	defer server.Close()

	q := NewQueue(NewMemoryFileStore(), nil, nil, testLogger())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		q.Fetch(server.URL, func(id string) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "one transfer serves every waiter")
	assert.Equal(t, []int{0, 1, 2}, order, "waiters run in registration order")
}

func TestQueueHonorsConcurrencyLimit(t *testing.T) {
	icon := pngBytes(t, 16)
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		w.Write(icon)
	}))
	defer server.Close()

	q := NewQueue(NewMemoryFileStore(), nil, nil, testLogger())
	q.SetMaxActive(2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		q.Fetch(server.URL+"/"+string(rune('a'+i)), func(id string) { wg.Done() })
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestQueueSetMaxActiveStartsPending(t *testing.T) {
	icon := pngBytes(t, 16)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-release
		}
		w.Write(icon)
	}))
	defer server.Close()
	defer close(release)

	q := NewQueue(NewMemoryFileStore(), nil, nil, testLogger())

	ids := make(chan string, 1)
	q.Fetch(server.URL+"/slow", nil)
	q.Fetch(server.URL+"/fast", func(id string) { ids <- id })

	// At maxActive 1 the second fetch is stuck behind the slow one.
	select {
	case <-ids:
		t.Fatal("pending fetch ran before a slot was free")
	case <-time.After(100 * time.Millisecond):
	}

	q.SetMaxActive(2)
	assert.NotEmpty(t, waitFor(t, ids))
}

func TestQueueRejectsPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes(t, 8))
	}))
	defer server.Close()

	var reportedURL, reportedCause string
	reported := make(chan struct{})
	report := func(url, cause string) {
		reportedURL, reportedCause = url, cause
		close(reported)
	}

	q := NewQueue(NewMemoryFileStore(), nil, report, testLogger())

	ids := make(chan string, 1)
	q.Fetch(server.URL, func(id string) { ids <- id })

	assert.Empty(t, waitFor(t, ids), "placeholder must not yield an asset id")

	select {
	case <-reported:
	case <-time.After(time.Second):
		t.Fatal("failure was not reported")
	}
	assert.Equal(t, server.URL, reportedURL)
	assert.Contains(t, reportedCause, "invalid image format")

	_, ok := q.Cached(server.URL)
	assert.False(t, ok, "failed downloads must not be cached")
}

func TestQueueRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	q := NewQueue(NewMemoryFileStore(), nil, nil, testLogger())

	ids := make(chan string, 1)
	q.Fetch(server.URL, func(id string) { ids <- id })
	assert.Empty(t, waitFor(t, ids))
}

type brokenStore struct{}

func (brokenStore) Store(data []byte) (string, error) { return "", errors.New("disk full") }
func (brokenStore) Get(id string) ([]byte, error)     { return nil, ErrNotFound }

func TestQueueReportsStorageFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes(t, 16))
	}))
	defer server.Close()

	causes := make(chan string, 1)
	q := NewQueue(brokenStore{}, nil, func(url, cause string) { causes <- cause }, testLogger())

	ids := make(chan string, 1)
	q.Fetch(server.URL, func(id string) { ids <- id })

	assert.Empty(t, waitFor(t, ids))
	select {
	case cause := <-causes:
		assert.Contains(t, cause, "failed to store asset")
	case <-time.After(time.Second):
		t.Fatal("storage failure was not reported")
	}
}

func TestQueueDisposeAbandonsWaiters(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(pngBytes(t, 16))
	}))
	defer server.Close()
	defer close(release)

	q := NewQueue(NewMemoryFileStore(), nil, nil, testLogger())

	var calls atomic.Int32
	q.Fetch(server.URL, func(id string) { calls.Add(1) })
	time.Sleep(50 * time.Millisecond)

	q.Dispose()

	// Fetches after Dispose are no-ops.
	q.Fetch(server.URL, func(id string) { calls.Add(1) })

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "disposed queue must not invoke waiters")
}
