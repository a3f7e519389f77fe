package headers

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// RFC1123Time is a plain alias so callers don't need to import time just
// to call AddDate/EncodeRFC1123.
type RFC1123Time = time.Time

var weekday = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
var month = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

var rfc1123DateTimeRegex = regexp.MustCompile(
	`^[A-Z][a-z]{2}, ([0-9]{1,2}) ([A-Z][a-z]{2}) ([0-9]{2}|[0-9]{4}) ([0-9]{2}):([0-9]{2}):([0-9]{2}) GMT$`,
)

// IsRFC1123DateTime reports whether value matches the RFC1123 date-time
// grammar used by headers like Date and Last-Modified; callers rely on
// this to avoid comma-splitting a date value in SplitFieldValue.
func IsRFC1123DateTime(value string) bool {
	return rfc1123DateTimeRegex.MatchString(value)
}

// EncodeRFC1123 formats t the way the header store spells dates on the
// wire: weekday/day/month/year abbreviations joined with GMT, always in
// UTC regardless of t's original location.
func EncodeRFC1123(t RFC1123Time) string {
	u := t.UTC()
	return fmt.Sprintf("%s, %d %s %d %02d:%02d:%02d GMT",
		weekday[int(u.Weekday()+6)%7],
		u.Day(),
		month[u.Month()-1],
		u.Year(),
		u.Hour(),
		u.Minute(),
		u.Second(),
	)
}

// DecodeRFC1123 parses a wire date string into a time.Time, returning an
// error if it does not match the RFC1123 grammar.
func DecodeRFC1123(value string) (RFC1123Time, error) {
	m := rfc1123DateTimeRegex.FindStringSubmatch(value)
	if m == nil {
		return time.Time{}, fmt.Errorf("%q is not a valid RFC1123 date", value)
	}

	day, _ := strconv.Atoi(m[1])
	monthName := m[2]
	yearStr := m[3]
	hour, _ := strconv.Atoi(m[4])
	min, _ := strconv.Atoi(m[5])
	sec, _ := strconv.Atoi(m[6])

	monthIdx := -1
	for i, mo := range month {
		if mo == monthName {
			monthIdx = i
			break
		}
	}
	if monthIdx < 0 {
		return time.Time{}, fmt.Errorf("%q has unrecognized month %q", value, monthName)
	}

	year, _ := strconv.Atoi(yearStr)
	if len(yearStr) == 2 {
		year += 1900
	}

	return time.Date(year, time.Month(monthIdx+1), day, hour, min, sec, 0, time.UTC), nil
}
