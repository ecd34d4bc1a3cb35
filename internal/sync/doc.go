// Package sync drives sync runs from the upstream catalog into the document store.
//
// # Runs
//
// A run pulls the pages of one entity type in order. Each page is fetched,
// reconciled against the document store, and only then is the cursor advanced
// and committed. A run that fails leaves the cursor at its last committed
// value, so the next run resumes on the page that failed.
//
// Run phases move Running → Draining → Completed, or to Failed from either of
// the first two. Draining is entered when CancelSync is called: the page in
// flight is finished and committed, and the run completes without fetching the
// next one.
//
// # Concurrency
//
// At most one run per entity type is active (StartSync returns
// *AlreadyRunningError otherwise). Runs of different entity types proceed in
// parallel up to the configured worker cap; runs beyond the cap wait for a slot.
//
// # Modes
//
//   - full: walks the whole sequence; once exhausted the cursor token is reset
//     so the next run starts over.
//   - incremental: walks the records changed in [WindowStart, now). Once
//     exhausted WindowStart moves to the end of the window minus the
//     configured overlap.
//
// # Coordinator Package
//
// The sync/coordinator subpackage triggers runs on a per entity interval.
package sync
