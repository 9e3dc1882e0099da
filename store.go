package ruststore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/moscow-ovh/ruststore-go/api"
)

// ============================================================================
// Cart Payload Decoding
// ============================================================================

// cartSchema describes the backend's cart payload: an ordered sequence of
// purchase records. Validated before decoding so a malformed payload fails
// with a useful diagnostic instead of a partial unmarshal.
var cartSchema = gojsonschema.NewStringLoader(`{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["queueID", "type"],
		"properties": {
			"pid":     {"type": "string"},
			"queueID": {"type": "string"},
			"icon":    {"type": "string"},
			"type":    {"type": "integer"}
		}
	}
}`)

func decodeCartRecords(data json.RawMessage) ([]*PurchaseRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("missing data payload")
	}

	result, err := gojsonschema.Validate(cartSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("cart payload validation: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("cart payload schema: %s", result.Errors()[0])
	}

	var records []*PurchaseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ============================================================================
// CartStore
// ============================================================================

// CartStore owns every user's cached cart. Carts are created lazily on first
// refresh and dropped when the session ends; losing one is harmless because
// it is reconstructible from the backend.
type CartStore struct {
	client *api.Client
	msgs   Messages
	log    logrus.FieldLogger

	mu    sync.Mutex
	carts map[string]*userCart

	// grace is how long a granted record survives before the eviction sweep
	// may remove it; bulkWindow is how long the grant-all guard stays
	// active.
	grace      time.Duration
	bulkWindow time.Duration
}

// CartStoreOption configures a CartStore at construction.
type CartStoreOption func(*CartStore)

// WithGraceWindow overrides the granted-record eviction grace window.
func WithGraceWindow(d time.Duration) CartStoreOption {
	return func(s *CartStore) { s.grace = d }
}

// WithBulkGrantWindow overrides the grant-all guard staleness window.
func WithBulkGrantWindow(d time.Duration) CartStoreOption {
	return func(s *CartStore) { s.bulkWindow = d }
}

// NewCartStore creates a cart store with 30s grace and guard windows.
func NewCartStore(client *api.Client, msgs Messages, log logrus.FieldLogger, opts ...CartStoreOption) *CartStore {
	s := &CartStore{
		client:     client,
		msgs:       msgs,
		log:        log,
		carts:      make(map[string]*userCart),
		grace:      30 * time.Second,
		bulkWindow: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh pulls the user's purchase queue from the backend and merges it
// into the cached cart: granted-and-stale records are evicted first, then
// newly seen records are inserted by queue id. An already-present queue id
// is never overwritten, whatever the backend resent — that is what preserves
// grant state across repeated refreshes.
func (s *CartStore) Refresh(userID string, onSuccess func(), onFail func(message string)) {
	s.client.FetchCart(userID, func(resp *api.Response) {
		if resp.Failure() {
			s.log.WithError(resp.Err()).WithField("user", userID).Debug("cart refresh failed")
			onFail(s.msgs.Get(MsgStoreError))
			return
		}

		records, err := decodeCartRecords(resp.Data)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"user":     userID,
				"response": resp.Raw,
			}).Errorf("failed to decode cart: %s", err)
			onFail(s.msgs.Get(MsgStoreError))
			return
		}

		s.mu.Lock()
		cart := s.cartLocked(userID)
		now := time.Now()
		for queueID, rec := range cart.items {
			if rec.removable(now, s.grace) {
				delete(cart.items, queueID)
			}
		}
		for _, rec := range records {
			if _, ok := cart.items[rec.QueueID]; ok {
				continue
			}
			cart.items[rec.QueueID] = rec
		}
		s.mu.Unlock()

		onSuccess()
	})
}

// cartLocked returns the user's cart, creating it lazily. Must be called
// with the lock held.
func (s *CartStore) cartLocked(userID string) *userCart {
	cart, ok := s.carts[userID]
	if !ok {
		cart = newUserCart()
		s.carts[userID] = cart
	}
	return cart
}

// Record looks up one record by queue id.
func (s *CartStore) Record(userID, queueID string) (*PurchaseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return nil, false
	}
	rec, ok := cart.items[queueID]
	return rec, ok
}

// HasCart reports whether the user has a cached cart at all.
func (s *CartStore) HasCart(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.carts[userID]
	return ok
}

// FirstUngranted returns some not-yet-granted record from the user's cart.
// The pick order is map order: unspecified beyond "an ungranted record if
// one exists".
func (s *CartStore) FirstUngranted(userID string) (*PurchaseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return nil, false
	}
	for _, rec := range cart.items {
		if !rec.Granted() {
			return rec, true
		}
	}
	return nil, false
}

// Ungranted returns every not-yet-granted record in the user's cart.
func (s *CartStore) Ungranted(userID string) []*PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return nil
	}
	records := make([]*PurchaseRecord, 0, len(cart.items))
	for _, rec := range cart.items {
		if !rec.Granted() {
			records = append(records, rec)
		}
	}
	return records
}

// IsBulkGrantActive reports whether a grant-all progression was marked
// within the guard window. A mark older than the window is stale and counts
// as inactive.
func (s *CartStore) IsBulkGrantActive(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[userID]
	if !ok {
		return false
	}
	if cart.bulkGrantStartedAt.IsZero() {
		return false
	}
	return time.Since(cart.bulkGrantStartedAt) <= s.bulkWindow
}

// MarkBulkGrantStarted sets (or refreshes) the grant-all guard.
func (s *CartStore) MarkBulkGrantStarted(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartLocked(userID).bulkGrantStartedAt = time.Now()
}

// MarkBulkGrantCleared clears the grant-all guard.
func (s *CartStore) MarkBulkGrantCleared(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cart, ok := s.carts[userID]; ok {
		cart.bulkGrantStartedAt = time.Time{}
	}
}

// EndSession drops the user's cart.
func (s *CartStore) EndSession(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
}
