// Package uploadqueue manages named, user-scoped durable queues of file
// items. Every mutation rewrites the full queue record through the
// storage.QueueStore; an auto-save ticker retries records whose
// write-through persist failed, and ReadAll restores all queues at
// startup before new work is accepted.
package uploadqueue
