// Package manifest provides SQLite-based cataloging of download runs.
//
// The manifest records what was fetched, where it landed, and its
// digest, so repeated runs against an unchanged site can skip files
// already on disk and operators can audit what a run produced. It is a
// catalog of outcomes only: crawl traversal state is never persisted,
// and an interrupted run starts over from its seed.
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of a
// flat JSON file because:
// 1. No external dependencies - the manifest is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. Seeding the skip set is one indexed query, even across many runs
// 4. WAL mode provides good concurrent read performance
package manifest
