package sdfat

import (
	"time"
)

// FAT dates count from the MS-DOS epoch.
const (
	dosEpochYear = 1980
	dosLastYear  = 2107
)

// ParseDate decodes a 16 bit directory entry date:
//  Bits 0–4:  day of month, 1–31
//  Bits 5–8:  month, 1–12
//  Bits 9–15: years since 1980, 0–127
// The time of the result is always 00:00:00 UTC.
//
// Day or month 0 are invalid, in that case time.Time{} is returned so that
// time.Time.IsZero() can be used.
func ParseDate(input uint16) time.Time {
	day := input & 0x1F
	month := input & 0x1E0 >> 5
	years := input & 0xFE00 >> 9

	if day == 0 || month == 0 {
		return time.Time{}
	}

	return time.Date(dosEpochYear+int(years), time.Month(month), int(day), 0, 0, 0, 0, time.UTC)
}

// ParseTime decodes a 16 bit directory entry time with 2 second granularity:
//  Bits 0–4:   seconds / 2, 0–29
//  Bits 5–10:  minutes, 0–59
//  Bits 11–15: hours, 0–23
// The date of the result is always January 1 of year 1.
// Out of range values are capped at 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)
	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}
	return result
}

// FormatDate encodes the date part of t. Dates outside of 1980–2107 are clamped.
func FormatDate(t time.Time) uint16 {
	year := t.Year()
	switch {
	case year < dosEpochYear:
		return 1<<5 | 1
	case year > dosLastYear:
		return 127<<9 | 12<<5 | 31
	}
	return uint16(year-dosEpochYear)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}

// FormatTime encodes the time of day of t, rounded down to 2 seconds.
func FormatTime(t time.Time) uint16 {
	return uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
}

// joinStamp combines a decoded date and time into one UTC time.
// A zero date results in time.Time{}.
func joinStamp(date uint16, clock uint16) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}
	c := ParseTime(clock)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, time.UTC)
}
