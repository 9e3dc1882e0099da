package ruststore

// ============================================================================
// Game-Side Collaborators
// ============================================================================
//
// Everything the store needs from the surrounding game server is expressed
// as an interface here. The store never mutates game state directly.

// Session is the live game-side state of one store user.
type Session interface {
	// UserID returns the stable user identifier (steam id).
	UserID() string

	// DisplayName returns the user's visible name, used for command
	// placeholder substitution.
	DisplayName() string

	// Conscious reports whether the user can receive grants at all: dead,
	// wounded, sleeping and spectating users all count as not conscious.
	Conscious() bool

	// BuildingBlocked reports whether the user stands in a building zone
	// they are not authorized in.
	BuildingBlocked() bool

	// BuildingAuthorized reports whether the user stands in a building zone
	// of their own.
	BuildingAuthorized() bool
}

// ItemDefinition describes one native item.
type ItemDefinition struct {
	Shortname   string
	DisplayName string
	// StackLimit is the item's maximum per-slot quantity.
	StackLimit int
}

// ItemCatalog resolves catalog shortnames into native item definitions.
type ItemCatalog interface {
	Find(shortname string) (ItemDefinition, bool)
}

// ItemGrant is one native give operation resolved by the engine.
type ItemGrant struct {
	Def    ItemDefinition
	Amount int
	// SkinID is the visual variant, zero for the plain item.
	SkinID uint64
	// Enhanced marks the grant for the configured durability scaling.
	Enhanced bool
}

// Inventory inspects and mutates one user's native inventory. Give calls run
// only after the backend has confirmed the entitlement.
type Inventory interface {
	Capacity(userID string) int
	Occupied(userID string) int
	GiveItem(userID string, grant ItemGrant)
	GiveBlueprint(userID string, def ItemDefinition)
}

// CommandRunner executes one console command on the game server.
type CommandRunner interface {
	Run(command string)
}

// Notifier delivers localized messages to a user.
type Notifier interface {
	Info(userID, message string)
	Error(userID, message string)
}

// ============================================================================
// Enhanced Variants
// ============================================================================

// EnhancedItem maps a purchasable enhanced shortname to the underlying base
// item and its fixed visual variant.
type EnhancedItem struct {
	Shortname string
	SkinID    uint64
}

var enhancedItems = map[string]EnhancedItem{
	"uberhatchet": {Shortname: "hatchet", SkinID: 815040374},
	"uberpickaxe": {Shortname: "pickaxe", SkinID: 837760607},
	"ubericepick": {Shortname: "icepick.salvaged", SkinID: 844666224},
}
