// Package badger implements storage.QueueStore on BadgerDB. Queue records
// live under a common key prefix keyed by user and queue name; an
// in-memory mode backs tests.
package badger
