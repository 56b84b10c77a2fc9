// Package timer is triggerd's scheduler core.
//
// A Registry owns at most one running instance per key. Instances fire in
// one of three modes:
//   - interval: every N seconds, drift corrected against an absolute
//     expected time so scheduling delay never accumulates
//   - scheduled: at a calendar instant, optionally repeating daily, weekly
//     or monthly (month-end clamped)
//   - cron: robfig/cron expressions in a configured location
//
// Every fire produces an Event that is fanned out to the instance's current
// subscribers. A panicking subscriber is recovered and logged; the others
// still receive the event.
package timer
