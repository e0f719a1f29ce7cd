// Package scheduler runs background work for the application.
//
// Three kinds of work are supported:
//   - one-shot tasks, started immediately on their own goroutine
//   - periodic tasks, run at a fixed rate; each run holds a slot of a small
//     bounded worker pool
//   - soft schedules (RunnableSchedule), evaluated by a cron poller that is
//     itself a periodic task
//
// Every submission yields a handle (uuid) that can be queried or cancelled.
// A cleanup sweep forgets handles of finished work.
package scheduler
