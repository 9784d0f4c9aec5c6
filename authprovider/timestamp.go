package authprovider

import (
	"strconv"
	"time"
)

func int32key(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}

func parseMillisTimestamp(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatMillisTimestamp(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}
