package ruststore

import (
	"strconv"
	"strings"
)

// ============================================================================
// Localized Message Catalog
// ============================================================================

// Message keys. User-visible failures are always mapped to one of these;
// raw backend text is never shown to users.
const (
	MsgGiveMind          = "GIVE.MIND"
	MsgGiveCupboardOther = "GIVE.CUPBOARD.OTHER"
	MsgGiveCupboardOwner = "GIVE.CUPBOARD.OWNER"

	MsgStoreUnavailable = "STORE.UNAVAILABLE"
	MsgStoreError       = "STORE.ERROR"
	MsgStoreOffline     = "STORE.OFFLINE"
	MsgStoreReload      = "STORE.RELOAD"

	MsgItemBlocked       = "ITEM.BLOCKED"
	MsgItemAlreadyGiven  = "ITEM.ALREADYGIVED"

	MsgItemsEmpty  = "ITEMS.EMPTY"
	MsgItemsGiving = "ITEMS.GIVE"
	MsgItemsGiven  = "ITEMS.GIVEN"

	MsgImageLoading = "IMAGE.LOADING"
	MsgImageMissing = "IMAGE.MISSED"

	MsgSlotsRelease = "SLOTS.RELEASE"
	MsgSlotsOne     = "SLOTS.DECLENSION1"
	MsgSlotsFew     = "SLOTS.DECLENSION2"
	MsgSlotsMany    = "SLOTS.DECLENSION3"

	MsgLoginSyntax       = "STORE.NOSTEAM.SYNTAX"
	MsgLoginTokenInvalid = "STORE.NOSTEAM.TOKEN.INVALID"
	MsgLoginTokenExpired = "STORE.NOSTEAM.TOKEN.EXPIRED"
	MsgLoginRegistered   = "STORE.NOSTEAM.REGISTERED"
	MsgLoginSuccess      = "STORE.NOSTEAM.SUCCESS"
)

var defaultMessages = map[string]string{
	MsgGiveMind:          "Ваш персонаж должен быть в сознании",
	MsgGiveCupboardOther: "Вы не можете получить товар в зоне чужого шкафа",
	MsgGiveCupboardOwner: "Вы должны находится в зоне своего шкафа, чтобы получить товар",

	MsgStoreUnavailable: "Магазин временно недоступен",
	MsgStoreError:       "Что-то пошло не так...",
	MsgStoreOffline:     "Магазин выключен",
	MsgStoreReload:      "Магазин обновляется, повторите попытку позднее",

	MsgItemBlocked:      "Предмет заблокирован",
	MsgItemAlreadyGiven: "Предмет уже был выдан",

	MsgItemsEmpty:  "Товары отсутствуют",
	MsgItemsGiving: "Ожидайте, ваши товары выдаются",
	MsgItemsGiven:  "Все товары успешно выданы",

	MsgImageLoading: "Изображение\nзагружается",
	MsgImageMissing: "Изображения\nнет",

	MsgSlotsRelease: "Освободите {SLOTS}\n для получения {ITEM.NAME} x {AMOUNT}",
	MsgSlotsOne:     "слот",
	MsgSlotsFew:     "слота",
	MsgSlotsMany:    "слотов",

	MsgLoginSyntax:       "Ошибка синтаксиса: /store login \"TOKEN\"",
	MsgLoginTokenInvalid: "Вы ввели неправильный токен",
	MsgLoginTokenExpired: "Введенный токен устарел",
	MsgLoginRegistered:   "Пользователь с таким steamid уже зарегистрирован",
	MsgLoginSuccess:      "Авторизация прошла успешно, теперь вы можете пользоваться корзиной в течение часа",
}

// Messages is the localized message catalog. The zero value serves the
// defaults; overrides replace individual keys.
type Messages struct {
	overrides map[string]string
}

// NewMessages creates a catalog with the given per-key overrides applied on
// top of the defaults.
func NewMessages(overrides map[string]string) Messages {
	return Messages{overrides: overrides}
}

// Get returns the message for key, falling back to the key itself when it is
// unknown.
func (m Messages) Get(key string) string {
	if m.overrides != nil {
		if msg, ok := m.overrides[key]; ok {
			return msg
		}
	}
	if msg, ok := defaultMessages[key]; ok {
		return msg
	}
	return key
}

// SlotShortage renders the slot-shortage message for the given shortfall,
// with the unit word declined by magnitude.
func (m Messages) SlotShortage(slots int, itemName string, amount int) string {
	counted := FormatCount(slots, m.Get(MsgSlotsOne), m.Get(MsgSlotsFew), m.Get(MsgSlotsMany))
	return strings.NewReplacer(
		"{SLOTS}", counted,
		"{ITEM.NAME}", itemName,
		"{AMOUNT}", strconv.Itoa(amount),
	).Replace(m.Get(MsgSlotsRelease))
}

// FormatCount renders "<n> <unit>" with the unit picked by the three-form
// declension rule: 1 → one, 2-4 → few, everything else (including 11-14 in
// every hundred) → many.
func FormatCount(n int, one, few, many string) string {
	formatted := strconv.Itoa(n) + " "

	rem := n
	if rem > 100 {
		rem = rem % 100
	}

	if rem > 9 && rem < 21 {
		return formatted + many
	}

	switch rem % 10 {
	case 1:
		return formatted + one
	case 2, 3, 4:
		return formatted + few
	default:
		return formatted + many
	}
}
