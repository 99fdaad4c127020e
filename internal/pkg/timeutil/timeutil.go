package timeutil

import "time"

// Timestamps are stored as unix milliseconds so lease cutoffs can be finer
// than one second.

func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func ToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func Before(now int64, d time.Duration) int64 {
	return now - d.Milliseconds()
}
