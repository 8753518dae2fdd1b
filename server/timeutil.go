package server

import "time"

// ISO8601Extended formats a time like 2006-01-02T15:04:05+09:00, the form
// used in log records and the dc message.
func ISO8601Extended(t time.Time) string {
	return t.Format("2006-01-02T15:04:05-07:00")
}

// ISO8601Basic formats a time like 20060102T150405, the form used in the
// match directory name.
func ISO8601Basic(t time.Time) string {
	return t.Format("20060102T150405")
}

// timeOfDay formats a time like 15:04:05 for console line prefixes.
func timeOfDay(t time.Time) string {
	return t.Format("15:04:05")
}
