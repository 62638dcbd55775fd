// Package batcher collects embedding requests into time-windowed,
// fixed-size batches. Texts already present in the resource cache skip the
// embedder entirely, identical texts are computed once per window, and
// failed batches are retried with linear backoff before every waiter is
// told the outcome.
package batcher
