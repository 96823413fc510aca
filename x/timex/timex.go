package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// DurMs converts a millisecond count from a config field to a Duration.
func DurMs[T ~uint16 | ~uint32 | ~int | ~int64](ms T) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
