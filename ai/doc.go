// Package ai declares the external capability boundaries the pipeline
// depends on: text extraction, embedding generation, and the vector store.
//
// The orchestration core treats all three as fallible, rate-limited
// collaborators. Concrete adapters live in the subpackages: openai
// (embeddings over an OpenAI-compatible API), qdrant (vector store),
// plaintext (UTF-8 file extraction), and mock (test doubles).
package ai
