package ruststore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/moscow-ovh/ruststore-go/api"
	"github.com/moscow-ovh/ruststore-go/downloads"
)

// ============================================================================
// Startup Assets
// ============================================================================

// GUI assets fetched during initialization, before the download queue opens
// up for item icons.
const (
	assetMainPanel = "http://static.moscow.ovh/store/gui/rust/store_modal.png"
	assetButtons   = "http://static.moscow.ovh/store/gui/rust/store_buttons.png"
	assetError     = "http://static.moscow.ovh/store/gui/rust/store_error.png"
	assetInfo      = "http://static.moscow.ovh/store/gui/rust/store_empty.png"
	assetBlueprint = "http://static.moscow.ovh/images/games/rust/icons/blueprintbase.png"
)

// startupMaxActive is the download concurrency once initialization has
// finished. Until then the queue runs a single transfer at a time so the
// startup assets land first.
const startupMaxActive = 8

// ============================================================================
// Store
// ============================================================================

// Store is the assembled client: dispatcher, backend client, download
// queue, cart store and grant engine wired together from one Config.
type Store struct {
	cfg     *Config
	log     *logrus.Logger
	errHook *ErrorFileHook
	audit   *AuditLog

	dispatcher *api.Dispatcher
	client     *api.Client

	Downloads *downloads.Queue
	Carts     *CartStore
	Engine    *Engine
}

// StoreDeps are the game-side collaborators a Store needs.
type StoreDeps struct {
	Catalog   ItemCatalog
	Inventory Inventory
	Runner    CommandRunner
	Notifier  Notifier

	// Files persists downloaded assets. Defaults to an in-memory store.
	Files downloads.FileStore

	// HTTPClient overrides the HTTP client used for backend requests and
	// asset transfers. Defaults apply when nil.
	HTTPClient *http.Client

	// Messages overrides individual catalog messages by key.
	Messages map[string]string
}

// New assembles a Store from configuration and game-side collaborators.
// Engine options (veto hooks) are passed through to the grant engine.
func New(cfg *Config, deps StoreDeps, opts ...EngineOption) (*Store, error) {
	log, errHook, err := NewLogger(cfg.ErrorLogPath)
	if err != nil {
		return nil, err
	}

	audit, err := NewAuditLog(cfg.GiveLogPath)
	if err != nil {
		errHook.Close()
		return nil, err
	}

	files := deps.Files
	if files == nil {
		files = downloads.NewMemoryFileStore()
	}

	dispatcher := api.NewDispatcher(deps.HTTPClient)
	client := api.NewClient(cfg.BaseURL(), cfg.StoreID, cfg.ServerID, cfg.ServerKey, dispatcher, log)

	// Failed asset downloads are reported back to the backend so the store
	// operator sees broken product icons without shell access to the game
	// server.
	reporter := func(url, cause string) {
		client.ReportImageError(fmt.Sprintf("Url: '%s', Error: %s", url, cause), nil)
	}
	queue := downloads.NewQueue(files, deps.HTTPClient, reporter, log)

	msgs := NewMessages(deps.Messages)
	carts := NewCartStore(client, msgs, log,
		WithGraceWindow(cfg.CartGraceWindow),
		WithBulkGrantWindow(cfg.BulkGrantWindow))

	engine := NewEngine(EngineDeps{
		Config:    cfg,
		Client:    client,
		Carts:     carts,
		Catalog:   deps.Catalog,
		Inventory: deps.Inventory,
		Runner:    deps.Runner,
		Notifier:  deps.Notifier,
		Messages:  msgs,
		Log:       log,
		Audit:     audit,
		Downloads: queue,
	}, opts...)

	return &Store{
		cfg:        cfg,
		log:        log,
		errHook:    errHook,
		audit:      audit,
		dispatcher: dispatcher,
		client:     client,
		Downloads:  queue,
		Carts:      carts,
		Engine:     engine,
	}, nil
}

// Client exposes the underlying backend client.
func (s *Store) Client() *api.Client { return s.client }

// Messages exposes the resolved message catalog.
func (s *Store) Messages() Messages { return s.Engine.msgs }

// Initialize verifies the backend credentials and prefetches the startup
// GUI assets. Once every startup asset has completed (whether or not it
// succeeded), the download queue opens up to full concurrency and onReady
// runs. A failed credential check leaves the store uninitialized; the
// failure is already in the durable error log.
func (s *Store) Initialize(onReady func()) {
	s.client.CheckAuth(func(resp *api.Response) {
		if resp.Failure() {
			return
		}
		s.prefetchStartupAssets(onReady)
	})
}

func (s *Store) prefetchStartupAssets(onReady func()) {
	assets := []string{assetMainPanel, assetInfo, assetError, assetBlueprint, assetButtons}

	var remaining atomic.Int32
	remaining.Store(int32(len(assets)))

	for _, url := range assets {
		url := url
		s.Downloads.Fetch(url, func(id string) {
			if id == "" {
				s.log.WithField("url", url).Error("failed to download startup asset")
			}
			if remaining.Add(-1) == 0 {
				s.Downloads.SetMaxActive(startupMaxActive)
				if onReady != nil {
					onReady()
				}
			}
		})
	}
}

// Initialized reports whether startup finished: the download queue has been
// opened past its startup concurrency of one.
func (s *Store) Initialized() bool {
	return s.Downloads.MaxActive() > 1
}

// Close releases every in-flight request and download and closes the log
// files. Pending callbacks are dropped, not failed.
func (s *Store) Close() error {
	s.dispatcher.Dispose()
	s.Downloads.Dispose()
	err := s.audit.Close()
	if hookErr := s.errHook.Close(); err == nil {
		err = hookErr
	}
	return err
}

// ============================================================================
// Integration API
// ============================================================================

// Integration API result codes, delivered verbatim to callbacks.
const (
	ResultSuccess       = "SUCCESS"
	ResultError         = "ERROR"
	ResultErrorDiscount = "ERROR.DISCOUNT"
	ResultErrorJSON     = "ERROR.JSON"
)

// ChangeGlobalDiscount sets the store-wide discount percentage. Out-of-range
// discounts fail locally with ResultErrorDiscount and no request is sent;
// the return value reports whether a request was issued.
func (s *Store) ChangeGlobalDiscount(discount int, callback func(result string)) bool {
	if discount < 0 || discount > 99 {
		if callback != nil {
			callback(ResultErrorDiscount)
		}
		return false
	}

	s.client.ChangeGlobalDiscount(discount, func(resp *api.Response) {
		if callback == nil {
			return
		}
		if resp.Success() {
			callback(ResultSuccess)
		} else {
			callback(ResultError)
		}
	})
	return true
}

// ChangeProductDiscount sets one product's discount percentage, with the
// same bounds handling as ChangeGlobalDiscount.
func (s *Store) ChangeProductDiscount(discount, productID int, callback func(result string)) bool {
	if discount < 0 || discount > 99 {
		if callback != nil {
			callback(ResultErrorDiscount)
		}
		return false
	}

	s.client.ChangeProductDiscount(discount, productID, func(resp *api.Response) {
		if callback == nil {
			return
		}
		if resp.Success() {
			callback(ResultSuccess)
		} else {
			callback(ResultError)
		}
	})
	return true
}

// ChangeUserBalance credits a user's store balance.
func (s *Store) ChangeUserBalance(userID string, sum int, callback func(result string)) bool {
	s.client.ChangeUserBalance(userID, sum, func(resp *api.Response) {
		if callback == nil {
			return
		}
		if resp.Success() {
			callback(ResultSuccess)
		} else {
			callback(ResultError)
		}
	})
	return true
}

// PurchaseResult is the outcome of a server-initiated purchase.
type PurchaseResult struct {
	Success bool
	Message string
	// Balance is the user's balance after the purchase.
	Balance int
	// Paid is the amount actually charged.
	Paid float64
	// Discount is the discount applied to the purchase.
	Discount float64
}

// PurchaseProduct performs a purchase on the user's behalf. The backend
// answers with the new balance, the charged amount and the applied
// discount; a response without that triple is reported as a fatal error.
func (s *Store) PurchaseProduct(userID string, productID, quantity int, productName string, productPrice int, callback func(PurchaseResult)) bool {
	s.client.PurchaseProduct(userID, productID, quantity, productName, productPrice, func(resp *api.Response) {
		var numbers []float64
		if err := json.Unmarshal(resp.Data, &numbers); err != nil || len(numbers) < 3 {
			s.log.WithField("response", resp.Raw).Error("malformed purchase response payload")
			if callback != nil {
				callback(PurchaseResult{Success: false, Message: "fatalError"})
			}
			return
		}

		if callback != nil {
			callback(PurchaseResult{
				Success:  resp.Success(),
				Message:  resp.Message,
				Balance:  int(numbers[0]),
				Paid:     numbers[1],
				Discount: numbers[2],
			})
		}
	})
	return true
}

// UserData looks up a user's store profile as a raw key-value map. The
// result code is ResultSuccess, ResultError for a backend failure, or
// ResultErrorJSON when the profile payload did not decode. Returns false
// without issuing a request when callback is nil.
func (s *Store) UserData(userID string, callback func(result string, data map[string]any)) bool {
	if callback == nil {
		return false
	}

	s.client.UserData(userID, func(resp *api.Response) {
		if resp.Failure() {
			callback(ResultError, nil)
			return
		}

		var data map[string]any
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			s.log.WithField("response", resp.Raw).Errorf("malformed user data payload: %s", err)
			callback(ResultErrorJSON, nil)
			return
		}

		callback(ResultSuccess, data)
	})
	return true
}

// LinkAccount binds a store login token to the user's game identity. The
// callback receives a localized message for every completed attempt; the
// returned bool reports whether the account was linked.
func (s *Store) LinkAccount(userID, token string, callback func(linked bool, message string)) {
	msgs := s.Engine.msgs
	s.client.LinkAccount(userID, token, func(resp *api.Response) {
		if resp.Failure() {
			var key string
			switch resp.Message {
			case "invalidToken":
				key = MsgLoginTokenInvalid
			case "expiredToken":
				key = MsgLoginTokenExpired
			case "userAlreadyRegistered":
				key = MsgLoginRegistered
			default:
				key = MsgStoreError
			}
			if callback != nil {
				callback(false, msgs.Get(key))
			}
			return
		}

		s.audit.Record("account linked user=%s", userID)
		if callback != nil {
			callback(true, msgs.Get(MsgLoginSuccess))
		}
	})
}
