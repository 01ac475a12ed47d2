package httpserver

import (
	"fmt"
	"time"
)

// RFC 1123 day/month abbreviations, computed from UTC, mirroring
// HttpAnswer::formLastModified's DAY_NAMES/MONTH_NAMES tables. The date
// FormatLastModified builds has the same shape as http.TimeFormat; the
// tables spell the wire format out explicitly, as the original builds it.
var rfc1123DayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
var rfc1123MonthNames = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// FormatLastModified renders unixTime as a complete `Last-Modified: ...`
// header line (CRLF-terminated), mirroring
// HttpAnswer::formLastModified.
func FormatLastModified(unixTime int64) string {
	t := time.Unix(unixTime, 0).UTC()
	return fmt.Sprintf("Last-Modified: %s, %02d %s %04d %02d:%02d:%02d GMT\r\n",
		rfc1123DayNames[t.Weekday()], t.Day(), rfc1123MonthNames[t.Month()-1], t.Year(),
		t.Hour(), t.Minute(), t.Second())
}
