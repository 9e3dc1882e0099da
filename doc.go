// Package ruststore is the server-side client for the Moscow.OVH game store
// backend. It synchronizes each user's purchase queue with the game server,
// grants purchased entitlements exactly once per purchase record, and caches
// remote icon assets through a bounded, deduplicating download queue.
//
// The game-specific collaborators (rendering, native inventory mutation,
// command execution, chat delivery) are supplied as interfaces; see
// collaborators.go.
package ruststore
