// Package rtc implements the kernel's notion of wall-clock time: the BCD
// RTC date representation, its conversion to/from a Unix-style second
// count, and the time-spec mini-language file history queries use to
// resolve "@<timestamp>" path components (spec.md §4.7, the versioned
// file system's time-travel reads).
//
// Grounded on original_source/kern/time.c's cmostime/time_msec and
// original_source/lib/string.c's rtcdate_to_time/time_to_rtcdate/
// subtract_time/parse_relative_time/parse_time, ported field for field.
package rtc

import (
	"strconv"
	"strings"
)

// / Date is the kernel's RTC date representation: seconds since the BCD
// / clock register, year stored as a full four-digit value (ground:
// / original_source/kern/time.c's cmostime already adds 2000 before
// / returning).
type Date struct {
	Second, Minute, Hour int
	Day, Month, Year      int
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// / DateToTime converts r to a second count, replicating
// / rtcdate_to_time's exact arithmetic: the leap-year count only walks
// / year%100 years (a century-scoped count, not an absolute epoch), and
// / month day-counts accumulate using r.Year's leap-ness for February.
func DateToTime(r Date) int64 {
	var val int64
	for year := 0; year < r.Year%100; year++ {
		val += 365 + int64(b2i(year%4 == 0))
	}

	for m := 1; m < r.Month; m++ {
		switch m {
		case 1, 3, 5, 7, 8, 10, 12:
			val += 31
		case 4, 6, 9, 11:
			val += 30
		case 2:
			val += 28 + int64(b2i(r.Year%4 == 0))
		}
	}

	val += int64(r.Day - 1)
	val = 24*val + int64(r.Hour)
	val = 60*val + int64(r.Minute)
	val = 60*val + int64(r.Second)
	return val
}

// / TimeToDate converts a second count back to a Date, replicating
// / time_to_rtcdate: it first reduces the count modulo a 400-year cycle
// / (400*365+100-4+1 days), then walks forward year by year and month
// / by month from 2000.
func TimeToDate(t int64) Date {
	var r Date
	r.Second = int(t % 60)
	t /= 60
	r.Minute = int(t % 60)
	t /= 60
	r.Hour = int(t % 24)
	t /= 24

	t %= 400*365 + 100 - 4 + 1

	r.Year = 2000
	for int64(365+b2i(r.Year%4 == 0)) <= t {
		t -= int64(365 + b2i(r.Year%4 == 0))
		r.Year++
	}

	daysInMonth := [13]int64{0, 31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	daysInMonth[2] += int64(b2i(r.Year%4 == 0))

	r.Month = 1
	for t >= daysInMonth[r.Month] {
		t -= daysInMonth[r.Month]
		r.Month++
	}
	r.Day = int(t) + 1
	return r
}

// / subtractTime applies a single [val][unit] decrement to t/r, unit
// / being one of ymdhns (year/month/day/hour/minute/second, case
// / insensitive). Returns 0 for an unrecognized unit. Ported verbatim
// / from subtract_time, including its quirk: the year/month branches
// / mutate r's Year/Month fields directly and set mult to 0, but the
// / unconditional TimeToDate(t, &r) at the end still re-derives every
// / field of r from the (unchanged) t, so a 'y' or 'n' step's direct
// / field edit is immediately superseded by that re-derivation — the
// / net effect of a pure year/month shift is a no-op on t. Preserved
// / as-is since it matches the reference implementation precisely.
func subtractTime(t int64, unit byte, val int64, r *Date) int64 {
	var mult int64 = 1

	switch unit {
	case 'y', 'Y':
		yr := r.Year
		delta := 0
		if val > int64(yr) {
			delta = 100
		}
		r.Year = yr + delta - int(val%100)
		mult = 0
	case 'n', 'N':
		newVal := val / 12
		if val >= int64(r.Month) {
			newVal++
		}
		nt := subtractTime(t, 'y', newVal, r)
		if nt == 0 {
			return nt
		}
		t = nt
		delta := 0
		if val >= int64(r.Month) {
			delta = 12
		}
		r.Month += delta - int(val%12)
		mult = 0
	case 'd', 'D':
		mult *= 24
		fallthrough
	case 'h', 'H':
		mult *= 60
		fallthrough
	case 'm', 'M':
		mult *= 60
		fallthrough
	case 's', 'S':
	default:
		return 0
	}

	t -= mult * val
	*r = TimeToDate(t)
	return t
}

func leadingInt(s string) (val int64, rest string, ok bool) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return 0, s, false
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, s, false
	}
	return n, s[i:], true
}

// / parseRelative parses a run of [num][unit] segments (e.g. "5s",
// / "2m5s") against current, applying each via subtractTime in turn.
// / Returns 0 if any segment fails to parse or resolve (ground:
// / parse_relative_time).
func parseRelative(str string, current int64) int64 {
	r := TimeToDate(current)
	for str != "" {
		val, rest, ok := leadingInt(str)
		if !ok || rest == "" {
			return 0
		}
		unit := rest[0]
		if strings.IndexByte("smhdny", unit) < 0 {
			return 0
		}
		next := subtractTime(current, unit, val, &r)
		if next == 0 {
			return 0
		}
		current = next
		str = rest[1:]
	}
	return current
}

// / ParseTime resolves a time-spec string against current (used as the
// / "now" reference for relative forms and as the fallback for an empty
// / string). Recognized forms, in order (ground: parse_time):
// /
// /   ""                               -> current
// /   c<seconds>                       -> absolute second count
// /   <relative segments, e.g. 5s2m>   -> current shifted backward
// /   YYYY[-MM[-DDT[hh:mm[:ss]][AM|PM]]] -> an ISO-ish absolute date
// /
// / Returns (0, false) if str matches none of these forms.
func ParseTime(str string, current int64) (int64, bool) {
	if str == "" {
		return current, true
	}
	if str[0] == 'c' {
		n, err := strconv.ParseInt(str[1:], 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	if t := parseRelative(str, current); t != 0 {
		return t, true
	}

	// Fields the spec leaves out default to the start of the period:
	// "YYYY" is January 1st, "YYYY-MM" the 1st of that month.
	r := Date{Month: 1, Day: 1}
	rest := str

	year, rest2, ok := leadingInt(rest)
	if !ok {
		return 0, false
	}
	r.Year = int(year)
	if rest2 == "" {
		return DateToTime(r), true
	}
	if rest2[0] != '-' {
		return 0, false
	}
	rest = rest2[1:]

	month, rest2, ok := leadingInt(rest)
	if !ok {
		return 0, false
	}
	r.Month = int(month)
	if rest2 == "" {
		return DateToTime(r), true
	}
	if rest2[0] != '-' {
		return 0, false
	}
	rest = rest2[1:]

	day, rest2, ok := leadingInt(rest)
	if !ok {
		return 0, false
	}
	r.Day = int(day)
	if rest2 == "" {
		return DateToTime(r), true
	}
	if rest2[0] != 'T' {
		return 0, false
	}
	rest = rest2[1:]

	hour, rest2, ok := leadingInt(rest)
	if !ok || rest2 == "" || rest2[0] != ':' {
		return 0, false
	}
	r.Hour = int(hour)
	rest = rest2[1:]

	minute, rest2, ok := leadingInt(rest)
	if !ok {
		return 0, false
	}
	r.Minute = int(minute)
	if rest2 == "" {
		return DateToTime(r), true
	}

	if rest2[0] == ':' {
		rest = rest2[1:]
		second, rest3, ok := leadingInt(rest)
		if !ok {
			return 0, false
		}
		r.Second = int(second)
		if rest3 == "" {
			return DateToTime(r), true
		}
		rest2 = rest3
	}

	if len(rest2) == 2 && (rest2[0] == 'A' || rest2[0] == 'P') && rest2[1] == 'M' {
		// Bitwise, not logical, xor — ported as-is from parse_time's
		// `(*endptr == 'A') ^ (r.hour % 12)`.
		if b2i(rest2[0]=='A')^(r.Hour%12) != 0 {
			r.Hour = (r.Hour + 12) % 24
		}
		return DateToTime(r), true
	}

	return 0, false
}
