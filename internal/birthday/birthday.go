// Package birthday owns the birthday registry, the notification-channel
// directory and the due-reminder resolver. Both the interactive commands and
// the daily scheduled pass go through the same resolver so the two paths
// cannot drift apart.
package birthday

import (
	"errors"
	"strconv"
)

// User-input validation errors. These surface back to the invoking command
// and are never logged as system faults.
var (
	ErrInvalidDate    = errors.New("date must be in MM-DD format")
	ErrInvalidChannel = errors.New("channel id must be numeric")
)

// Entry is one registered birthday.
type Entry struct {
	MemberID string
	MonthDay string // "MM-DD"
}

// daysInMonth is non-leap-year month lengths, except February keeps 29 so a
// Feb 29 birthday stays registrable in strict mode.
var daysInMonth = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// ValidateMonthDay checks an "MM-DD" string.
//
// Lax mode mirrors strptime("%m-%d"): month 01-12, day 01-31 regardless of
// month, so "02-30" passes. Strict mode additionally bounds the day by the
// month's length.
func ValidateMonthDay(s string, strict bool) error {
	if len(s) != 5 || s[2] != '-' {
		return ErrInvalidDate
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return ErrInvalidDate
		}
	}
	month, _ := strconv.Atoi(s[:2])
	day, _ := strconv.Atoi(s[3:])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ErrInvalidDate
	}
	if strict && day > daysInMonth[month] {
		return ErrInvalidDate
	}
	return nil
}
