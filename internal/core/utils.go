package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// datePhraseLen is the length of a YYYY-MM-DD prefix.
const datePhraseLen = 10

// dateFmtUnpadded also matches single-digit months and days.
const dateFmtUnpadded = "2006-1-2"

var (
	mdRegex  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	relRegex = regexp.MustCompile(`^([dwmy])-(\d+)$`)
)

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// ParseDate parses a YYYY-MM-DD string into a time.Time (date only, at midnight UTC).
// Month and day may omit their leading zero, as in 2006-5-1.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateFmt, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dateFmtUnpadded, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
}

// ParseDateSpec returns a concrete date for flexible spec strings.
// Supports:
// 1. Exact YYYY-MM-DD
// 2. M/D or MM/DD (most recent past occurrence)
// 3. Relative forms like d-7 (days), w-2 (weeks), m-3 (months), y-1 (years)
func ParseDateSpec(spec string, loc *time.Location) (time.Time, error) {
	return parseDateSpecAt(spec, time.Now().In(loc))
}

func parseDateSpecAt(spec string, now time.Time) (time.Time, error) {
	loc := now.Location()
	today := DateOnly(now)

	if t, err := ParseDate(spec); err == nil {
		return t, nil
	}

	if matches := mdRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		target := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, loc)
		if target.After(today) {
			target = time.Date(now.Year()-1, time.Month(month), day, 0, 0, 0, 0, loc)
		}
		return target, nil
	}

	if matches := relRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		num, _ := strconv.Atoi(matches[2])
		switch matches[1] {
		case "d":
			return today.AddDate(0, 0, -num), nil
		case "w":
			return today.AddDate(0, 0, -num*7), nil
		case "m":
			return today.AddDate(0, -num, 0), nil
		case "y":
			return today.AddDate(-num, 0, 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
}

// DatePhrase reduces a timestamp phrase to its date part. Servers send
// either a bare date or a full ISO 8601 timestamp.
func DatePhrase(phrase string) string {
	if len(phrase) > datePhraseLen {
		return phrase[:datePhraseLen]
	}
	return phrase
}

// DateOnly returns midnight of t's day in t's location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateFmt)
}
