package ruststore

import (
	"encoding/json"
	"sync"
	"time"
)

// ============================================================================
// Purchase Records
// ============================================================================

// ItemKind selects the grant logic for a purchase record. The numeric values
// are the backend's wire encoding.
type ItemKind int

const (
	// KindCommands grants a list of console commands.
	KindCommands ItemKind = 1
	// KindGameItem grants a native inventory item.
	KindGameItem ItemKind = 2
	// KindBlueprint grants the blueprint for a native item.
	KindBlueprint ItemKind = 5
)

// GameItemPayload is the kind-specific payload of a GameItem or Blueprint
// record.
type GameItemPayload struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
	Block    bool   `json:"block"`
}

// PurchaseRecord is one pending entitlement from the user's purchase queue.
//
// PurchaseID is an opaque backend id used only for logs; QueueID is the
// unique key of this grant attempt. Once a record is marked granted it never
// becomes ungranted again, which is what prevents double-granting across
// repeated cart refreshes.
type PurchaseRecord struct {
	PurchaseID string          `json:"pid"`
	QueueID    string          `json:"queueID"`
	Icon       string          `json:"icon"`
	Kind       ItemKind        `json:"type"`
	Payload    json.RawMessage `json:"data"`

	mu        sync.Mutex
	grantedAt time.Time
}

// Granted reports whether this record has been granted.
func (r *PurchaseRecord) Granted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.grantedAt.IsZero()
}

// MarkGranted stamps the record as granted. Re-marking refreshes the stamp;
// it never clears.
func (r *PurchaseRecord) MarkGranted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grantedAt = time.Now()
}

// removable reports whether the record is eligible for eviction: granted,
// and the grace window has fully elapsed. Ungranted records are never
// evicted.
func (r *PurchaseRecord) removable(now time.Time, grace time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grantedAt.IsZero() {
		return false
	}
	return now.Sub(r.grantedAt) > grace
}

// GameItem decodes the record's payload as a game-item payload.
func (r *PurchaseRecord) GameItem() (*GameItemPayload, error) {
	var payload GameItemPayload
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Commands decodes the record's payload as an ordered command list.
func (r *PurchaseRecord) Commands() ([]string, error) {
	var commands []string
	if err := json.Unmarshal(r.Payload, &commands); err != nil {
		return nil, err
	}
	return commands, nil
}

// AutoRecord is one entry of the backend's auto-activation queue: a command
// list tied to a user rather than to a live session.
type AutoRecord struct {
	PurchaseID string   `json:"pid"`
	QueueID    string   `json:"queueID"`
	UserID     string   `json:"steamID"`
	Commands   []string `json:"data"`
}

// ============================================================================
// User Carts
// ============================================================================

// userCart is the per-session purchase collection. Owned exclusively by
// CartStore; created lazily on first refresh, dropped when the session ends.
type userCart struct {
	items map[string]*PurchaseRecord

	// bulkGrantStartedAt guards the grant-all progression against
	// re-entrancy. Zero means no progression is active.
	bulkGrantStartedAt time.Time
}

func newUserCart() *userCart {
	return &userCart{
		items: make(map[string]*PurchaseRecord),
	}
}
