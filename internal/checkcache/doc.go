// Package checkcache memoizes per-key verification results between runs.
//
// Only keys last verified as matched, and verified within the TTL, are ever
// skipped. A key cached as orphan_confirmed is always re-checked because a
// reference to it may have been created since.
package checkcache
