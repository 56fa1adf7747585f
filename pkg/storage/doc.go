/*
Package storage implements the persistent catalog over SQLite.

The catalog is the single durable owner of handlers, timers, schedules,
jobs, and runtime config. Every operation runs under one process-wide
mutex (single-writer) against a single connection of the CGO-free
modernc.org/sqlite driver, so concurrent producer loops and HTTP requests
never race on the file.

Mutations to handlers, timers, and schedules regenerate the row's UUID.
Producer loops compare their snapshot id against the catalog id to detect
that they have been superseded, which is how updates and deletes propagate
without explicit stop channels.

CancelStaleJobs is the crash-recovery transition: at startup every job
left pending or running by a previous process is flipped to cancelled with
error "Backend restarted".
*/
package storage
