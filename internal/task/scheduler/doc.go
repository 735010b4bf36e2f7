// Package scheduler owns the timers behind chore reminders.
//
// Jobs are one-shot and keyed by (kind, reminder id); scheduling an existing
// key replaces it. When a timer fires the scheduler only enqueues work into
// the task engine, on the reminder's serialization lane. Periodic
// housekeeping (the missed-fire sweep) runs on a cron interval.
package scheduler
