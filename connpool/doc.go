// Package connpool gates calls to the external vector store behind a
// circuit breaker and a bounded, adaptively sized connection-slot pool.
// Breaker-open failures return immediately so upstream logic can apply its
// own fallback, such as serving stale cache data.
package connpool
