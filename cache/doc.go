// Package cache implements a content-addressed resource cache with TTL
// expiry, entry-count capacity, and an estimated-memory budget. Eviction
// removes the entry with the lowest access count, an approximate-LFU
// policy chosen so redundant embedding work is the first thing reclaimed.
package cache
