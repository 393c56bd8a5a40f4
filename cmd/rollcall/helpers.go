package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/api"
)

func parseID(label, value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive integer", label, value)
	}
	return id, nil
}

// formatTimestamp renders an API timestamp in local time.
func formatTimestamp(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	parsed, err := api.ParseTime(value)
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04:05")
}

func formatPercent(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64) + "%"
}

func formatSince(value string, now time.Time) string {
	parsed, err := api.ParseTime(value)
	if err != nil || parsed.IsZero() {
		return "-"
	}
	return now.Sub(parsed).Truncate(time.Second).String()
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
