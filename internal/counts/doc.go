// Package counts stores authoritative episode totals for shows and seasons in
// a small JSON file so aggregate progress has a stable denominator across
// daemon restarts.
package counts
