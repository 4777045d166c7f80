// Package storage is sleepd's persistence layer.
//
// A single SQLite database (modernc.org/sqlite, pure Go) holds users,
// schedule triggers, notification messages, goals, sleep records and the
// insight cache. Uniqueness rules that the engine relies on for
// idempotency are enforced here, not in callers:
//   - one system alert and one weekly summary per (user, day) via a
//     unique (user_id, dedup_key) index
//   - one goal and one sleep record per (user, day)
//   - one insight entry per (user, period, day)
package storage
