// Package transfer owns leaf download execution: SQLite-backed records, an
// admission engine with a bounded worker pool, HTTP fetching with byte-range
// resume, and the restart recovery that requeues transfers interrupted by a
// previous process lifetime. Observers consume record and deletion event
// streams; they never mutate records directly.
package transfer
