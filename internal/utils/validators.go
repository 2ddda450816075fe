package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseAge parses an --age value. A bare number is a count of days;
// Go durations ("36h") and word forms ("3 days", "2 weeks") are also accepted.
func ParseAge(ageStr string) (time.Duration, error) {
	ageStr = strings.ToLower(strings.TrimSpace(ageStr))
	if ageStr == "" {
		return 0, nil
	}

	// If it's just a number, assume days
	if val, err := strconv.Atoi(ageStr); err == nil {
		if val < 0 {
			return 0, fmt.Errorf("age cannot be negative: %d", val)
		}
		return time.Duration(val) * day, nil
	}

	if strings.HasSuffix(ageStr, "d") {
		if val, err := strconv.Atoi(strings.TrimSuffix(ageStr, "d")); err == nil && val >= 0 {
			return time.Duration(val) * day, nil
		}
	}

	duration, err := time.ParseDuration(ageStr)
	if err == nil {
		if duration < 0 {
			return 0, fmt.Errorf("age cannot be negative: %s", ageStr)
		}
		return duration, nil
	}

	// Handle word formats like "3 days", "2 weeks", etc.
	parts := strings.Fields(ageStr)
	if len(parts) == 2 {
		val, err := strconv.Atoi(parts[0])
		if err != nil || val < 0 {
			return 0, fmt.Errorf("invalid age value: %s", parts[0])
		}

		unit := parts[1]
		switch {
		case strings.HasPrefix(unit, "hour"):
			return time.Duration(val) * time.Hour, nil
		case strings.HasPrefix(unit, "day"):
			return time.Duration(val) * day, nil
		case strings.HasPrefix(unit, "week"):
			return time.Duration(val) * 7 * day, nil
		default:
			return 0, fmt.Errorf("unknown age unit: %s", unit)
		}
	}

	return 0, fmt.Errorf("invalid age format: %s", ageStr)
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < day {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}

// ValidateInstanceID checks the EC2 instance ID format (i-xxxxxxxx)
func ValidateInstanceID(id string) error {
	if !strings.HasPrefix(id, "i-") || len(id) < 3 {
		return fmt.Errorf("invalid instance id: %s", id)
	}
	for _, r := range id[2:] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return fmt.Errorf("invalid instance id: %s", id)
		}
	}
	return nil
}

// ValidateRegion checks if the region format is valid
func ValidateRegion(region string) error {
	if region == "" {
		return fmt.Errorf("region cannot be empty")
	}

	// Basic validation for AWS region format (e.g., us-east-2)
	parts := strings.Split(region, "-")
	if len(parts) < 3 {
		return fmt.Errorf("invalid region format: %s", region)
	}

	// Check if it ends with a number
	if _, err := strconv.Atoi(parts[len(parts)-1]); err != nil {
		return fmt.Errorf("invalid region format: %s", region)
	}

	return nil
}
