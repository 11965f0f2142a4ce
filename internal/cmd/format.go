package cmd

import (
	"fmt"
	"time"
)

// formatCost formats a dollar amount: six decimals, or "< 0.0001" for tiny
// positive amounts so sub-cent runs never read as free.
func formatCost(c float64) string {
	if c > 0 && c < 0.0001 {
		return "< 0.0001"
	}
	return fmt.Sprintf("%.6f", c)
}

// formatAge renders how long ago t was, rounded to the minute.
func formatAge(t, now time.Time) string {
	d := now.Sub(t).Round(time.Minute)
	if d < time.Minute {
		return "just now"
	}
	return d.String() + " ago"
}
