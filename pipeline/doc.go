// Package pipeline wires the ingestion components into one facade:
// durable upload queues feed a priority scheduler whose document
// processor extracts text, splits it into chunks, routes embedding work
// through the batch collector, and gates vector-store upserts through the
// connection pool, reporting weighted stage progress along the way.
package pipeline
