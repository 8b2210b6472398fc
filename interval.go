package glacialcache

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// toInterval converts a Go duration to the wire representation bound for
// @sliding/@default_interval. Durations produced by this package never
// carry a months/days component, so only Microseconds is ever set.
func toInterval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

// toIntervalPtr is toInterval for an optional duration; it reports an
// invalid (NULL-binding) Interval when d is nil.
func toIntervalPtr(d *time.Duration) pgtype.Interval {
	if d == nil {
		return pgtype.Interval{}
	}
	return toInterval(*d)
}

// fromInterval recovers a Go duration from a value scanned out of
// sliding_interval. It accounts for Days/Months in case a row was ever
// written outside this package with a calendar-based interval.
func fromInterval(iv pgtype.Interval) time.Duration {
	if !iv.Valid {
		return 0
	}
	return time.Duration(iv.Microseconds)*time.Microsecond +
		time.Duration(iv.Days)*24*time.Hour +
		time.Duration(iv.Months)*30*24*time.Hour
}
