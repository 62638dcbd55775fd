// Package slot provides FIFO counting semaphores ("slot pools") that bound
// concurrent operations per resource category: documents, chunks, and
// embeddings each get their own pool so one stage cannot starve another.
package slot
