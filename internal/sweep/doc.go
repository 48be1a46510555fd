// Package sweep drives a reconciliation run.
//
// A run collects expected keys and lists the store concurrently, diffs the
// two, filters orphans through the resume cursor and the file check cache,
// asks the confirmation gate, and then quarantines candidates in sorted
// batches. The checkpoint advances only after a batch has fully finished and
// its ledger entries are committed. Cancellation is honoured between batches;
// the interrupted run is left resumable.
//
// Dry runs read both stores and the cache but write nothing: no lock, no
// checkpoint, no cache entries, no object store calls beyond listing.
package sweep
