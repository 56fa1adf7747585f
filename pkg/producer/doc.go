/*
Package producer runs the timer and schedule loops that inject events
into the queue.

Each registered timer or schedule gets one goroutine. Loops hold no stop
channel: on every wake they compare their snapshot id against the current
catalog id and retire when it no longer matches. Updates and deletes
therefore propagate by rotating the id in the catalog, which closes the
race a separate cancel signal would open between registration and
teardown.

Before emitting, a loop checks for an active job of its event type and
skips the firing if one exists, keeping at most one job in flight per
event type for timer- and schedule-sourced events. After a successful
emission the loop polls in 100ms steps until the job clears, so intervals
measure from completion rather than stacking behind a slow handler.

Manual triggers wake a sleeping loop through a buffered channel but never
override the active-job check.
*/
package producer
