// Package inventory enumerates the objects stored under an environment root.
//
// The root is listed once with a "/" delimiter to discover top-level shards,
// which are then paged concurrently. Quarantined objects and tool-owned control
// objects live under reserved prefixes and never appear in the inventory.
package inventory
