package dvf

import (
	"strings"
	"time"
)

// InseeCode joins a department and a commune code the way the reference
// dataset keys communes: department on two characters, commune on three.
// Overseas departments (971..976) carry their third digit in the commune
// code, so only their first two characters are kept.
func InseeCode(dept, commune string) string {
	dept = strings.TrimSpace(dept)
	commune = strings.TrimSpace(commune)
	if dept == "" || commune == "" {
		return ""
	}
	if len(dept) > 2 {
		dept = dept[:2]
	}
	return leftPad(dept, 2) + leftPad(commune, 3)
}

// ParseDate parses a mutation date written as day/month/year.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// Period returns the year-month bucket of a date.
func Period(t time.Time) string {
	return t.Format("2006-01")
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
