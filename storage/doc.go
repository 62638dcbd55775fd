// Package storage defines the persistence interface for upload queue
// records and the MUS serialization wrappers shared by its backends.
package storage
