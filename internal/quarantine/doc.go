// Package quarantine moves orphaned objects out of the live namespace.
//
// An object is copied to {root}/quarantine/{batchID}/{escaped original key},
// the copy is checked against the source (size, and the ETag when both are
// single-part), and only then is the source deleted. A failure at any step
// before the delete leaves the source untouched. Each copy carries its own
// purge-after timestamp so a later purge pass can hard-delete it without the
// local ledger. Restore reverses a move with the same discipline.
package quarantine
