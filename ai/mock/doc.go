// Package mock provides test doubles for the ai capability interfaces.
// Each double allows behavior injection through function fields and falls
// back to deterministic defaults, so tests stay reproducible without a
// live embedding service or vector store.
package mock
