// Package cache provides a fixed-capacity key/value cache with a pluggable
// eviction strategy.
//
// The engine (Base) owns the entries and the per-entry metadata; a Strategy
// only decides what the metadata looks like and which entry to drop when the
// cache is full. Two strategies ship with the package:
//   - LRU: evicts the entry with the oldest access.
//   - Groundhog: evicts like LRU and additionally forgets everything whenever
//     the calendar day changes in its configured location.
//
// Every method serializes on a single mutex. The caches in this repo guard
// administrative lookups, not hot paths.
package cache
