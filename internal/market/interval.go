package market

import (
	"strconv"
	"time"
)

// Intervals lists the kline intervals Binance spot accepts, in ascending order.
// Matching is case-sensitive: "1m" is one minute, "1M" is one month.
var Intervals = []string{
	"1s", "1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

var intervalSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Intervals))
	for _, iv := range Intervals {
		m[iv] = struct{}{}
	}
	return m
}()

func ValidInterval(interval string) bool {
	_, ok := intervalSet[interval]
	return ok
}

// IntervalDuration parses an interval into a duration; months count as 30 days.
// Returns (0, false) for anything outside Intervals.
func IntervalDuration(interval string) (time.Duration, bool) {
	if !ValidInterval(interval) {
		return 0, false
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	case 'M':
		return time.Duration(n) * 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
