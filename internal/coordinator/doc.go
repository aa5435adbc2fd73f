// Package coordinator runs the process loop that drives reconciliation.
//
// The loop checks the schedule on a short fixed tick and, when a pass is due,
// runs one reconciliation pass to completion before checking again:
//
//	tick -> Timer.IsDue() -> Reconciler.Reconcile() -> tick ...
//
// Passes never overlap. A pass that fails with anything other than an
// authentication failure is logged and recorded in the status tracker, and
// the loop carries on with the next due run. An authentication failure means
// no further progress is possible, so Start returns it.
//
// # Usage
//
//	timer := schedule.NewTimer(nil)
//	_ = timer.SetScheduleString("10m")
//
//	c := coordinator.New(rec, timer, coordinator.WithStatusTracker(tracker))
//	if err := c.Start(ctx); err != nil {
//	    // fatal
//	}
package coordinator
