// Package openai implements the ai.Embedder interface using the langchaingo
// OpenAI client. It works with any OpenAI-compatible embedding endpoint,
// including local servers such as Ollama.
package openai
