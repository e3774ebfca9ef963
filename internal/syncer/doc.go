// Package syncer drains pending ledger rows into the live-sync API.
//
// # Drain
//
// For each store with live sync enabled, the syncer pages through ledger rows whose
// next action is upsert or delete and which are unlocked (or whose lock is older than
// the lock TTL):
//
//  1. Claim: each row is locked with a compare-and-set on lock_timestamp. A row that
//     another worker claimed first is skipped and counted as a conflict.
//  2. Build: product upserts are turned into feed rows in one bulk call per page.
//     A product that is missing or disabled in the store is sent as a delete.
//  3. Dispatch: one signed POST per row, topic "<entity type>/<action>".
//  4. Settle: on success the row is completed (last action recorded, next action
//     cleared, lock released) or, for deletes, removed. Both only apply while the
//     row's revision matches the claimed one; if a new action was queued during the
//     dispatch only the lock is released. On failure only the lock is released so
//     the next drain retries it.
//
// # Concurrency
//
// Dispatches within a page run on an errgroup bounded by Config.Workers. A RunLock
// keeps two drains in the same process from overlapping; the ledger claim protects
// against drains in other processes.
//
//	s := syncer.New(store, deps, client, syncer.Config{Workers: 4}, m, logger)
//	stats, err := s.Sync(ctx, cfg.Stores, func(r syncer.EntityResult) {
//	    fmt.Printf("%s %d %s ok=%v\n", r.Store, r.TargetID, r.Action, r.OK)
//	})
package syncer
