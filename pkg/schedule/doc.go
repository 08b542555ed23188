// Package schedule snaps time onto a fixed-rate publication grid and drives
// frame emission at that rate.
//
// For a rate of r frames per second the grid inside every whole second is
// the same set of instants, second + round(i/r), so independently scheduled
// streams at the same rate produce identical timestamps and incremental
// stepping never drifts.
//
// A Scheduler runs on its own goroutine, computes the next canonical time
// and a latency-adjusted wake time, and hands ticks to consumers through a
// buffered channel without ever blocking on them.
package schedule
