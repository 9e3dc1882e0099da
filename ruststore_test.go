package ruststore

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moscow-ovh/ruststore-go/api"
)

// ============================================================================
// Test Harness
// ============================================================================

// fakeBackend emulates the store backend behind a single form endpoint,
// routing on the action field.
type fakeBackend struct {
	mu        sync.Mutex
	cartBody  string
	giveBody  string
	autoBody  string
	linkBody  string
	giveCalls int

	server *httptest.Server
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{
		cartBody: `{"status":"success","data":[]}`,
		giveBody: `{"status":"success","data":{"given":true}}`,
		autoBody: `{"status":"success","data":[]}`,
		linkBody: `{"status":"success","data":{}}`,
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.PostFormValue("action") {
	case "get":
		io.WriteString(w, b.cartBody)
	case "give":
		b.giveCalls++
		io.WriteString(w, b.giveBody)
	case "autoActivate":
		io.WriteString(w, b.autoBody)
	case "setData":
		io.WriteString(w, b.linkBody)
	default:
		io.WriteString(w, `{"status":"success","data":{}}`)
	}
}

func (b *fakeBackend) setLink(body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linkBody = body
}

func (b *fakeBackend) setCart(body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cartBody = body
}

func (b *fakeBackend) setGive(body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.giveBody = body
}

func (b *fakeBackend) gives() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.giveCalls
}

type fakeSession struct {
	id         string
	name       string
	conscious  bool
	blocked    bool
	authorized bool
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, name: "Tester", conscious: true, authorized: true}
}

func (s *fakeSession) UserID() string           { return s.id }
func (s *fakeSession) DisplayName() string      { return s.name }
func (s *fakeSession) Conscious() bool          { return s.conscious }
func (s *fakeSession) BuildingBlocked() bool    { return s.blocked }
func (s *fakeSession) BuildingAuthorized() bool { return s.authorized }

type fakeCatalog map[string]ItemDefinition

func (c fakeCatalog) Find(shortname string) (ItemDefinition, bool) {
	def, ok := c[shortname]
	return def, ok
}

type fakeInventory struct {
	mu         sync.Mutex
	capacity   int
	occupied   int
	gives      []ItemGrant
	blueprints []ItemDefinition
}

func (i *fakeInventory) Capacity(userID string) int { return i.capacity }
func (i *fakeInventory) Occupied(userID string) int { return i.occupied }

func (i *fakeInventory) GiveItem(userID string, grant ItemGrant) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.gives = append(i.gives, grant)
}

func (i *fakeInventory) GiveBlueprint(userID string, def ItemDefinition) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.blueprints = append(i.blueprints, def)
}

func (i *fakeInventory) given() []ItemGrant {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]ItemGrant(nil), i.gives...)
}

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
}

func (r *fakeRunner) Run(command string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
}

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	ch     chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan string, 32)}
}

func (n *fakeNotifier) Info(userID, message string)  { n.record("info: " + message) }
func (n *fakeNotifier) Error(userID, message string) { n.record("error: " + message) }

func (n *fakeNotifier) record(event string) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	n.ch <- event
}

// wait blocks until the notifier delivers the given event.
func (n *fakeNotifier) wait(t *testing.T, event string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-n.ch:
			if got == event {
				return
			}
		case <-deadline:
			t.Fatalf("notifier never delivered %q, saw %v", event, n.all())
		}
	}
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type testEnv struct {
	backend   *fakeBackend
	cfg       *Config
	carts     *CartStore
	engine    *Engine
	inventory *fakeInventory
	runner    *fakeRunner
	notifier  *fakeNotifier
	msgs      Messages
	auditPath string
}

func newTestEnv(t *testing.T, opts ...EngineOption) *testEnv {
	t.Helper()

	backend := newFakeBackend()
	t.Cleanup(backend.server.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	dispatcher := api.NewDispatcher(nil)
	t.Cleanup(dispatcher.Dispose)
	client := api.NewClient(backend.server.URL, "1", "2", "key", dispatcher, log)

	cfg := &Config{
		BanOtherCupboardGive: true,
		IconBaseURL:          "%s",
		CartGraceWindow:      30 * time.Second,
		BulkGrantWindow:      30 * time.Second,
	}

	msgs := NewMessages(nil)
	carts := NewCartStore(client, msgs, log,
		WithGraceWindow(cfg.CartGraceWindow),
		WithBulkGrantWindow(cfg.BulkGrantWindow))

	inventory := &fakeInventory{capacity: 24}
	runner := &fakeRunner{}
	notifier := newFakeNotifier()

	auditPath := filepath.Join(t.TempDir(), "give.log")
	audit, err := NewAuditLog(auditPath)
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	engine := NewEngine(EngineDeps{
		Config: cfg,
		Client: client,
		Carts:  carts,
		Catalog: fakeCatalog{
			"wood":             {Shortname: "wood", DisplayName: "Wood", StackLimit: 1000},
			"stone":            {Shortname: "stone", DisplayName: "Stone", StackLimit: 10},
			"rock":             {Shortname: "rock", DisplayName: "Rock", StackLimit: 1},
			"hatchet":          {Shortname: "hatchet", DisplayName: "Hatchet", StackLimit: 1},
			"pickaxe":          {Shortname: "pickaxe", DisplayName: "Pickaxe", StackLimit: 1},
			"icepick.salvaged": {Shortname: "icepick.salvaged", DisplayName: "Salvaged Icepick", StackLimit: 1},
		},
		Inventory: inventory,
		Runner:    runner,
		Notifier:  notifier,
		Messages:  msgs,
		Log:       log,
		Audit:     audit,
	}, opts...)

	return &testEnv{
		backend:   backend,
		cfg:       cfg,
		carts:     carts,
		engine:    engine,
		inventory: inventory,
		runner:    runner,
		notifier:  notifier,
		msgs:      msgs,
		auditPath: auditPath,
	}
}

// refresh runs a cart refresh to completion and fails the test on error.
func (e *testEnv) refresh(t *testing.T, userID string) {
	t.Helper()
	done := make(chan string, 1)
	e.carts.Refresh(userID,
		func() { done <- "" },
		func(message string) { done <- message })
	select {
	case message := <-done:
		if message != "" {
			t.Fatalf("refresh failed: %s", message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never completed")
	}
}

// grant runs a single grant to completion and returns the failure message,
// empty on success. Fails the test when neither callback runs.
func (e *testEnv) grant(t *testing.T, sess Session, queueID string) string {
	t.Helper()
	done := make(chan string, 1)
	e.engine.GrantOne(sess, queueID,
		func() { done <- "" },
		func(message string) { done <- message })
	select {
	case message := <-done:
		return message
	case <-time.After(2 * time.Second):
		t.Fatal("grant never completed")
		return ""
	}
}

// ============================================================================
// Store Facade
// ============================================================================

func newTestStore(t *testing.T, backend *fakeBackend) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := &Config{
		APIURL:               backend.server.URL,
		BanOtherCupboardGive: true,
		IconBaseURL:          "%s",
		ErrorLogPath:         filepath.Join(dir, "errors.log"),
		GiveLogPath:          filepath.Join(dir, "give.log"),
		CartGraceWindow:      30 * time.Second,
		BulkGrantWindow:      30 * time.Second,
	}

	store, err := New(cfg, StoreDeps{
		Catalog:   fakeCatalog{},
		Inventory: &fakeInventory{capacity: 24},
		Runner:    &fakeRunner{},
		Notifier:  newFakeNotifier(),
	})
	require.NoError(t, err)
	store.log.SetOutput(io.Discard)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDiscountBoundsCheckedLocally(t *testing.T) {
	backend := newFakeBackend()
	defer backend.server.Close()
	store := newTestStore(t, backend)

	for _, discount := range []int{-1, 100} {
		var result string
		issued := store.ChangeGlobalDiscount(discount, func(r string) { result = r })
		assert.False(t, issued)
		assert.Equal(t, ResultErrorDiscount, result)

		issued = store.ChangeProductDiscount(discount, 7, func(r string) { result = r })
		assert.False(t, issued)
		assert.Equal(t, ResultErrorDiscount, result)
	}
}

func TestChangeGlobalDiscount(t *testing.T) {
	backend := newFakeBackend()
	defer backend.server.Close()
	store := newTestStore(t, backend)

	results := make(chan string, 1)
	issued := store.ChangeGlobalDiscount(25, func(r string) { results <- r })
	assert.True(t, issued)

	select {
	case result := <-results:
		assert.Equal(t, ResultSuccess, result)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestUserDataRequiresCallback(t *testing.T) {
	backend := newFakeBackend()
	defer backend.server.Close()
	store := newTestStore(t, backend)

	assert.False(t, store.UserData("7656119", nil))
}

func TestUserData(t *testing.T) {
	backend := newFakeBackend()
	defer backend.server.Close()
	store := newTestStore(t, backend)

	type outcome struct {
		result string
		data   map[string]any
	}
	results := make(chan outcome, 1)
	store.UserData("7656119", func(result string, data map[string]any) {
		results <- outcome{result, data}
	})

	select {
	case got := <-results:
		assert.Equal(t, ResultSuccess, got.result)
		assert.NotNil(t, got.data)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestPurchaseProductMalformedPayload(t *testing.T) {
	backend := newFakeBackend()
	defer backend.server.Close()
	store := newTestStore(t, backend)

	results := make(chan PurchaseResult, 1)
	store.PurchaseProduct("7656119", 1, 1, "vip", 100, func(r PurchaseResult) { results <- r })

	select {
	case result := <-results:
		assert.False(t, result.Success)
		assert.Equal(t, "fatalError", result.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestLinkAccountTokenMapping(t *testing.T) {
	cases := []struct {
		backendMessage string
		wantKey        string
	}{
		{"invalidToken", MsgLoginTokenInvalid},
		{"expiredToken", MsgLoginTokenExpired},
		{"userAlreadyRegistered", MsgLoginRegistered},
		{"somethingElse", MsgStoreError},
	}

	for _, tc := range cases {
		t.Run(tc.backendMessage, func(t *testing.T) {
			backend := newFakeBackend()
			defer backend.server.Close()
			backend.setLink(`{"status":"error","message":"` + tc.backendMessage + `"}`)

			store := newTestStore(t, backend)

			type outcome struct {
				linked  bool
				message string
			}
			results := make(chan outcome, 1)
			store.LinkAccount("7656119", "token", func(linked bool, message string) {
				results <- outcome{linked, message}
			})

			select {
			case got := <-results:
				assert.False(t, got.linked)
				assert.Equal(t, store.Messages().Get(tc.wantKey), got.message)
			case <-time.After(2 * time.Second):
				t.Fatal("callback never ran")
			}
		})
	}
}

func TestLinkAccountSuccess(t *testing.T) {
	backend := newFakeBackend()
	defer backend.server.Close()
	store := newTestStore(t, backend)

	type outcome struct {
		linked  bool
		message string
	}
	results := make(chan outcome, 1)
	store.LinkAccount("7656119", "token", func(linked bool, message string) {
		results <- outcome{linked, message}
	})

	select {
	case got := <-results:
		assert.True(t, got.linked)
		assert.Equal(t, store.Messages().Get(MsgLoginSuccess), got.message)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestInitializeRequiresValidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"error","message":"invalidServerAuth"}`)
	}))
	defer server.Close()
	backend := &fakeBackend{server: server}

	store := newTestStore(t, backend)

	ready := make(chan struct{}, 1)
	store.Initialize(func() { ready <- struct{}{} })

	select {
	case <-ready:
		t.Fatal("store must not become ready with rejected credentials")
	case <-time.After(300 * time.Millisecond):
	}
	assert.False(t, store.Initialized())
}
