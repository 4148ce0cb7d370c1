// Package dedupe provides a TTL cache that suppresses keys repeated within a
// time window, such as an agent id reported overdue on consecutive scans.
package dedupe
