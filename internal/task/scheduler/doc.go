// Package scheduler triggers named jobs on cron or fixed-interval schedules.
//
// A job never overlaps itself: a trigger that fires while the previous
// invocation is still running is skipped and logged.
package scheduler
