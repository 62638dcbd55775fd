// Package scheduler runs ingestion jobs in strict priority order with a
// bounded worker pool. Within a priority jobs dequeue FIFO, retryable
// failures re-enqueue with linear backoff, and finished jobs remain
// observable through a bounded history ring. A coarse heap-allocation
// high-water mark can hold dequeuing back under memory pressure.
package scheduler
