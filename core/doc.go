// Package core defines the domain types shared across the conduit pipeline:
// content-derived IDs, upload queue records and items, the shared error
// taxonomy with retryability classification, and MUS serializers for the
// persisted types.
package core
