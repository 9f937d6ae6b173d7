package cloud

import (
	"fmt"
	"strings"
	"time"
)

var httpDateLayouts = []string{
	time.RFC1123,                     // Sun, 06 Nov 1994 08:49:37 GMT
	"Monday, 02-Jan-06 15:04:05 MST", // RFC 850
	"Mon, 02-Jan-06 15:04:05 MST",    // RFC 850, abbreviated weekday
	time.ANSIC,                       // asctime: Sun Nov  6 08:49:37 1994
}

// ParseHTTPDate parses the three date formats allowed in HTTP headers:
// RFC 1123, RFC 850 and asctime. Two-digit years are taken as 20yy. The
// result is in UTC.
func ParseHTTPDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range httpDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 2000 && strings.Contains(layout, "-06 ") {
			t = t.AddDate(100, 0, 0)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cloud: unrecognised HTTP date %q", s)
}
