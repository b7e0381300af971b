// Package nervusdb implements an embedded, single-process triple-store and
// graph engine: a write-ahead logged, paged on-disk index over six
// (subject, predicate, object) orderings, property documents attached to
// nodes and edges, cooperative multi-reader/single-writer concurrency, and
// maintenance operations for compaction, garbage collection, and
// consistency checking.
//
// A Store is opened with Open(path, options) and owns one exclusive-write
// handle on the files rooted at path. Facts are added and removed with
// AddFact/DeleteFact, become visible to Query immediately via the in-memory
// staging index, and are durably folded into the paged index by Flush.
// Maintenance (Compact, GarbageCollectPages, Check, Repair) is invoked
// explicitly by the caller rather than run on a background schedule.
package nervusdb
