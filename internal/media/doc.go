// Package media models catalog items as typed metadata records.
//
// Items are tagged by Type (movie, episode, season, show) and carry explicit
// optional parent and grandparent keys instead of loosely typed fields.
// Container items never store progress; their status is always synthesized
// from children by the downloads orchestrator. Metadata refreshes overwrite
// the whole item, never merge.
package media
