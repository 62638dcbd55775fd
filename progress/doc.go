// Package progress tracks weighted multi-stage progress for concurrent
// ingestion tasks. Overall progress is the weight-blended sum of stage
// percentages, the ETA is a linear extrapolation from elapsed time, and
// finished trackers stay queryable for a grace period so late polls still
// see the terminal state.
package progress
