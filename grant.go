package ruststore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/moscow-ovh/ruststore-go/api"
	"github.com/moscow-ovh/ruststore-go/downloads"
)

// ============================================================================
// Grant Engine
// ============================================================================

// Engine performs entitlement grants: it checks preconditions, consults veto
// hooks, asks the backend to confirm the entitlement, and only then hands
// the goods to the game server.
//
// Grants are idempotent per record. The record is marked granted before the
// backend round-trip starts, so a second attempt while the first is in
// flight fails with the already-given message instead of double-granting.
type Engine struct {
	cfg       *Config
	client    *api.Client
	carts     *CartStore
	catalog   ItemCatalog
	inventory Inventory
	runner    CommandRunner
	notifier  Notifier
	msgs      Messages
	log       logrus.FieldLogger
	audit     *AuditLog
	downloads *downloads.Queue

	itemHooks    []ItemGrantHook
	commandHooks []CommandGrantHook
}

// EngineDeps are the collaborators an Engine needs.
type EngineDeps struct {
	Config    *Config
	Client    *api.Client
	Carts     *CartStore
	Catalog   ItemCatalog
	Inventory Inventory
	Runner    CommandRunner
	Notifier  Notifier
	Messages  Messages
	Log       logrus.FieldLogger
	Audit     *AuditLog
	Downloads *downloads.Queue
}

// NewEngine creates a grant engine.
func NewEngine(deps EngineDeps, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:       deps.Config,
		client:    deps.Client,
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		runner:    deps.Runner,
		notifier:  deps.Notifier,
		msgs:      deps.Messages,
		log:       deps.Log,
		audit:     deps.Audit,
		downloads: deps.Downloads,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GrantOne grants a single cart record by queue id. Exactly one of onGranted
// and onFail runs for every completed attempt; neither runs when the grant
// is dropped (silent veto, auth sentinel, confirmation without data).
func (e *Engine) GrantOne(sess Session, queueID string, onGranted func(), onFail func(message string)) {
	rec, ok := e.carts.Record(sess.UserID(), queueID)
	if !ok {
		onFail(e.msgs.Get(MsgStoreError))
		return
	}
	e.grantRecord(sess, rec, onGranted, onFail)
}

func (e *Engine) grantRecord(sess Session, rec *PurchaseRecord, onGranted func(), onFail func(message string)) {
	if rec.Granted() {
		onFail(e.msgs.Get(MsgItemAlreadyGiven))
		return
	}
	if !sess.Conscious() {
		onFail(e.msgs.Get(MsgGiveMind))
		return
	}
	if e.cfg.BanOtherCupboardGive && sess.BuildingBlocked() {
		onFail(e.msgs.Get(MsgGiveCupboardOther))
		return
	}
	if e.cfg.OnlyCupboardGive && !sess.BuildingAuthorized() {
		onFail(e.msgs.Get(MsgGiveCupboardOwner))
		return
	}

	switch rec.Kind {
	case KindGameItem, KindBlueprint:
		e.grantGameItem(sess, rec, onGranted, onFail)
	case KindCommands:
		e.grantCommands(sess, rec, onGranted, onFail)
	default:
		e.log.WithFields(logrus.Fields{
			"user":    sess.UserID(),
			"queueID": rec.QueueID,
			"kind":    int(rec.Kind),
		}).Error("unknown purchase record kind")
		onFail(e.msgs.Get(MsgStoreError))
	}
}

func (e *Engine) grantGameItem(sess Session, rec *PurchaseRecord, onGranted func(), onFail func(message string)) {
	payload, err := rec.GameItem()
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"user":    sess.UserID(),
			"queueID": rec.QueueID,
		}).Errorf("failed to decode item payload: %s", err)
		onFail(e.msgs.Get(MsgStoreError))
		return
	}
	if payload.Block {
		onFail(e.msgs.Get(MsgItemBlocked))
		return
	}

	blueprint := rec.Kind == KindBlueprint
	if veto := e.vetoItem(sess, payload.ItemName, payload.Quantity, blueprint); veto != nil {
		if veto.Message != "" {
			onFail(veto.Message)
		}
		return
	}

	shortname := payload.ItemName
	var skinID uint64
	enhanced := false
	if variant, ok := enhancedItems[shortname]; ok {
		shortname = variant.Shortname
		skinID = variant.SkinID
		enhanced = true
	}

	def, ok := e.catalog.Find(shortname)
	if !ok {
		e.log.WithFields(logrus.Fields{
			"user":      sess.UserID(),
			"queueID":   rec.QueueID,
			"shortname": shortname,
		}).Error("unknown item shortname")
		onFail(e.msgs.Get(MsgStoreError))
		return
	}

	// Blueprints occupy a single slot regardless of quantity.
	amount := payload.Quantity
	if blueprint {
		amount = 1
	}
	if amount < 1 {
		e.log.WithFields(logrus.Fields{
			"user":    sess.UserID(),
			"queueID": rec.QueueID,
			"amount":  amount,
		}).Error("non-positive grant quantity")
		onFail(e.msgs.Get(MsgStoreError))
		return
	}

	// The slot check counts a single slot when the grant is forced into one
	// slot or when the stacked portions would not fit anyway.
	capacity := e.inventory.Capacity(sess.UserID())
	stack := 1
	containSlots := 0
	needSplit := false
	if !e.cfg.StackInOneSlot {
		if def.StackLimit > 1 {
			stack = def.StackLimit
		}
		containSlots = (amount + stack - 1) / stack
		needSplit = containSlots < capacity
	}

	needSlots := e.inventory.Occupied(sess.UserID())
	if needSplit {
		needSlots += containSlots
	} else {
		needSlots++
	}
	needSlots -= capacity
	if needSlots > 0 {
		onFail(e.msgs.SlotShortage(needSlots, def.DisplayName, amount))
		return
	}

	give := func() {
		if blueprint {
			e.inventory.GiveBlueprint(sess.UserID(), def)
			return
		}
		if !needSplit {
			e.inventory.GiveItem(sess.UserID(), ItemGrant{
				Def:      def,
				Amount:   amount,
				SkinID:   skinID,
				Enhanced: enhanced,
			})
			return
		}
		remaining := amount
		for remaining > 0 {
			portion := remaining
			if portion > stack {
				portion = stack
			}
			e.inventory.GiveItem(sess.UserID(), ItemGrant{
				Def:      def,
				Amount:   portion,
				SkinID:   skinID,
				Enhanced: enhanced,
			})
			remaining -= portion
		}
	}
	e.confirmGive(sess.UserID(), rec, give, onGranted, onFail)
}

func (e *Engine) grantCommands(sess Session, rec *PurchaseRecord, onGranted func(), onFail func(message string)) {
	commands, err := rec.Commands()
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"user":    sess.UserID(),
			"queueID": rec.QueueID,
		}).Errorf("failed to decode command payload: %s", err)
		onFail(e.msgs.Get(MsgStoreError))
		return
	}

	if veto := e.vetoCommands(sess, commands); veto != nil {
		if veto.Message != "" {
			onFail(veto.Message)
		}
		return
	}

	replacer := strings.NewReplacer(
		"{steamid}", sess.UserID(),
		"{playerName}", sess.DisplayName(),
	)
	give := func() {
		for _, command := range commands {
			e.runner.Run(replacer.Replace(command))
		}
	}
	e.confirmGive(sess.UserID(), rec, give, onGranted, onFail)
}

// confirmGive runs the backend confirmation round-trip and, on success,
// hands over the goods. The record is marked granted up front so a
// concurrent attempt on the same record is rejected while this one is in
// flight.
//
// A success response without a data payload means the backend confirmed
// but the confirmation content was lost in transit. The record stays
// granted and nothing is handed over or reported to the user; the durable
// error log is the only trace.
func (e *Engine) confirmGive(userID string, rec *PurchaseRecord, give, onGranted func(), onFail func(message string)) {
	rec.MarkGranted()
	e.audit.Record("give requested user=%s pid=%s queueID=%s", userID, rec.PurchaseID, rec.QueueID)

	e.client.ConfirmGive(userID, rec.QueueID, func(resp *api.Response) {
		subject := giveSubject(userID, resp.Data)
		if resp.Failure() {
			e.audit.Record("give denied user=%s queueID=%s status=%s message=%s",
				subject, rec.QueueID, resp.Status, resp.Message)
			onFail(e.msgs.Get(MsgStoreError))
			return
		}
		if len(resp.Data) == 0 {
			e.log.WithFields(logrus.Fields{
				"user":     userID,
				"queueID":  rec.QueueID,
				"response": resp.Raw,
			}).Error("give confirmed without data payload")
			e.audit.Record("give confirmed without data user=%s queueID=%s", userID, rec.QueueID)
			return
		}

		give()
		rec.MarkGranted()
		e.audit.Record("give confirmed user=%s pid=%s queueID=%s", subject, rec.PurchaseID, rec.QueueID)
		onGranted()
	})
}

// giveSubject attributes a grant to the backend-resolved store account
// carried in the confirmation payload. Nosteam accounts resolve to a store
// identity that differs from the session user; both end up in the audit
// line so the hand-off stays traceable.
func giveSubject(userID string, data json.RawMessage) string {
	var account string
	if err := json.Unmarshal(data, &account); err != nil || account == "" || account == userID {
		return userID
	}
	return fmt.Sprintf("%s (nosteam: %s)", account, userID)
}

// ============================================================================
// Bulk Grants
// ============================================================================

// GrantAll grants every ungranted record in the user's cart, one at a time:
// the next grant starts only after the previous confirmation completed. The
// progression is guarded so a second GrantAll while one is running is
// rejected; the guard goes stale on its own if a confirmation never comes
// back.
func (e *Engine) GrantAll(sess Session) {
	userID := sess.UserID()
	if !e.carts.HasCart(userID) {
		e.notifier.Error(userID, e.msgs.Get(MsgStoreError))
		return
	}
	if e.carts.IsBulkGrantActive(userID) {
		e.notifier.Error(userID, e.msgs.Get(MsgItemsGiving))
		return
	}
	if _, ok := e.carts.FirstUngranted(userID); !ok {
		e.notifier.Error(userID, e.msgs.Get(MsgItemsEmpty))
		return
	}

	e.carts.MarkBulkGrantStarted(userID)
	e.notifier.Info(userID, e.msgs.Get(MsgItemsGiving))
	e.grantNext(sess)
}

func (e *Engine) grantNext(sess Session) {
	userID := sess.UserID()
	rec, ok := e.carts.FirstUngranted(userID)
	if !ok {
		e.carts.MarkBulkGrantCleared(userID)
		e.notifier.Info(userID, e.msgs.Get(MsgItemsGiven))
		return
	}

	e.grantRecord(sess, rec,
		func() {
			// Refresh the guard so a long queue does not go stale mid-run.
			e.carts.MarkBulkGrantStarted(userID)
			e.grantNext(sess)
		},
		func(message string) {
			e.carts.MarkBulkGrantCleared(userID)
			e.notifier.Error(userID, message)
		})
}

// ============================================================================
// Auto-Activation
// ============================================================================

// AutoActivate drains the backend's auto-activation queue: command purchases
// flagged for delivery without a live session. Each entry is confirmed with
// the backend exactly like an interactive grant before its commands run.
func (e *Engine) AutoActivate() {
	e.client.FetchAutoQueue(func(resp *api.Response) {
		if resp.Failure() {
			return
		}

		var records []*AutoRecord
		if err := json.Unmarshal(resp.Data, &records); err != nil {
			e.log.WithField("response", resp.Raw).Errorf("failed to decode auto-activation queue: %s", err)
			return
		}

		for _, auto := range records {
			auto := auto
			e.audit.Record("auto-activate requested user=%s pid=%s queueID=%s",
				auto.UserID, auto.PurchaseID, auto.QueueID)

			e.client.ConfirmGive(auto.UserID, auto.QueueID, func(resp *api.Response) {
				if resp.Failure() {
					e.audit.Record("auto-activate denied user=%s queueID=%s message=%s",
						auto.UserID, auto.QueueID, resp.Message)
					return
				}
				if len(resp.Data) == 0 {
					e.log.WithFields(logrus.Fields{
						"user":    auto.UserID,
						"queueID": auto.QueueID,
					}).Error("auto-activate confirmed without data payload")
					return
				}

				replacer := strings.NewReplacer("{steamid}", auto.UserID)
				for _, command := range auto.Commands {
					e.runner.Run(replacer.Replace(command))
				}
				e.audit.Record("auto-activate confirmed user=%s pid=%s queueID=%s",
					auto.UserID, auto.PurchaseID, auto.QueueID)
			})
		}
	})
}
