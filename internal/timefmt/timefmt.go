// Package timefmt normalizes the serialized read_date strings produced by the
// tracker over its lifetime. Three encodings exist in stored data: the
// hyphen-packed 12-hour form (YYYY-MM-DD-HH-MM-SS-mmm-AM, with the meridiem
// sometimes concatenated straight onto the milliseconds), the hyphen-packed
// 24-hour form, and the conventional space/colon form. Anything else is
// decoded by greedy digit-group extraction. Malformed input never errors;
// parsing fails open to the zero time so a bad record cannot break a listing.
package timefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DisplayGap separates the date and time halves of the canonical display
// string. Non-breaking spaces keep the two halves from wrapping apart.
const DisplayGap = "     "

var (
	trailingMeridiemRe = regexp.MustCompile(`(?i)([ap]m)$`)
	wordMeridiemRe     = regexp.MustCompile(`(?i)\b(am|pm)\b`)
	digitGroupRe       = regexp.MustCompile(`\d+`)

	// YYYY-MM-DD-HH-MM-SS[-mmm][-AM|PM], meridiem separator optional
	hyphenPackedRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})-(\d{1,2})-(\d{2})-(\d{2})(?:-(\d{1,3}))?(?:-?\s*(?i:(AM|PM)))?$`)
	// YYYY-MM-DD HH:MM:SS[.mmm] [AM|PM]
	spaceColonRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\s+(\d{1,2}):(\d{2}):(\d{2})(?:\.(\d{1,3}))?\s*(?i:(AM|PM))?$`)
)

// Parse decodes a serialized read_date in any of the known encodings into a
// local-time instant. The zero time is returned when nothing can be decoded.
//
// An explicit AM/PM token anywhere in the string governs the hour; without
// one the hour is taken as already 24-hour. Hour 12 wraps to 0 under AM and
// stays 12 under PM.
func Parse(raw string) time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}
	}

	meridiem := ""
	if m := trailingMeridiemRe.FindStringSubmatch(s); m != nil {
		meridiem = strings.ToUpper(m[1])
	} else if m := wordMeridiemRe.FindStringSubmatch(s); m != nil {
		meridiem = strings.ToUpper(m[1])
	}

	stripped := trailingMeridiemRe.ReplaceAllString(s, "")
	stripped = wordMeridiemRe.ReplaceAllString(stripped, "")

	digits := digitGroupRe.FindAllString(stripped, -1)
	if len(digits) == 0 {
		return time.Time{}
	}

	year := groupOr(digits, 0, 0)
	month := groupOr(digits, 1, 1)
	day := groupOr(digits, 2, 1)
	hour := groupOr(digits, 3, 0)
	minute := groupOr(digits, 4, 0)
	second := groupOr(digits, 5, 0)

	// Millisecond field may carry 1-4 digits; only the first three count.
	ms := 0
	if len(digits) > 6 {
		msRaw := digits[6]
		if len(msRaw) > 3 {
			msRaw = msRaw[:3]
		}
		for len(msRaw) < 3 {
			msRaw += "0"
		}
		ms, _ = strconv.Atoi(msRaw)
	}

	if meridiem == "PM" && hour < 12 {
		hour += 12
	}
	if meridiem == "AM" && hour == 12 {
		hour = 0
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, ms*int(time.Millisecond), time.Local)
}

// Format renders a serialized read_date as the canonical display string:
// YYYY-MM-DD, a five-character gap, then hh:mm:ss with a lowercase meridiem,
// always 12-hour. Formatting works from the stored string rather than a
// parsed instant so timezone conversion can never flip the meridiem. Input
// that cannot be decoded is returned as-is.
func Format(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	// Detach a meridiem glued onto the millisecond digits ("823PM" -> "823 PM").
	s := trailingMeridiemRe.ReplaceAllString(strings.TrimSpace(raw), " $1")

	m := hyphenPackedRe.FindStringSubmatch(s)
	if m == nil {
		m = spaceColonRe.FindStringSubmatch(s)
	}
	if m != nil {
		hour, _ := strconv.Atoi(m[4])
		return render(m[1], m[2], m[3], hour, m[5], m[6], meridiemFor(s, hour))
	}

	// Generic fallback: greedy digit groups in year..second order.
	nums := digitGroupRe.FindAllString(wordMeridiemRe.ReplaceAllString(s, ""), -1)
	if len(nums) < 6 {
		return s
	}
	hour, _ := strconv.Atoi(nums[3])
	return render(nums[0], pad2(nums[1]), pad2(nums[2]), hour, pad2(nums[4]), pad2(nums[5]), meridiemFor(s, hour))
}

// Compare orders two serialized read_dates by their parsed instants; the raw
// strings are never compared directly since the encodings do not sort lexically.
func Compare(a, b string) int {
	ta, tb := Parse(a), Parse(b)
	switch {
	case ta.Before(tb):
		return -1
	case ta.After(tb):
		return 1
	default:
		return 0
	}
}

// Ago renders a coarse relative age ("42s ago", "3m ago") for a read_date.
func Ago(raw string, now time.Time) string {
	seconds := int(now.Sub(Parse(raw)).Seconds())
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}

// meridiemFor resolves the display meridiem: an explicit marker anywhere in
// the string wins; otherwise hour >= 12 is shown as pm. The inference branch
// mirrors the tracker's historical behavior and is deliberately not extended.
func meridiemFor(s string, hour int) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "pm"):
		return "pm"
	case strings.Contains(lower, "am"):
		return "am"
	case hour >= 12:
		return "pm"
	default:
		return "am"
	}
}

func render(year, month, day string, hour int, minute, second, meridiem string) string {
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%s-%s-%s%s%02d:%s:%s %s", year, month, day, DisplayGap, h, minute, second, meridiem)
}

func pad2(s string) string {
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

// groupOr reads the idx-th digit group; missing, unparseable, and zero-valued
// groups all degrade to the positional default, mirroring how the stored
// formats treat absent fields.
func groupOr(groups []string, idx, def int) int {
	if idx >= len(groups) {
		return def
	}
	v, err := strconv.Atoi(groups[idx])
	if err != nil || v == 0 {
		return def
	}
	return v
}
