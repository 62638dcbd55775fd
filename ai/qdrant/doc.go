// Package qdrant implements the ai.VectorStore interface using the official
// Qdrant Go client. Namespaces map to collections, created lazily with
// cosine distance.
package qdrant
