// Package scheduler triggers the periodic scan.
//
// It wraps robfig/cron with a Recover + SkipIfStillRunning chain, so a scan
// that outlives its interval makes the next tick a no-op instead of stacking
// a second run. The schedule can be swapped at runtime with Apply.
package scheduler
