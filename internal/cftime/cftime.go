// Package cftime decodes CF-convention time axes ("days since ...") under the
// calendars used by CMIP6 model output.
package cftime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedCalendar is returned for calendar names outside the CF set
	// handled by this package.
	ErrUnsupportedCalendar = errors.New("unsupported calendar")
	// ErrBadUnits is returned when a time units string is not of the form
	// "<unit> since <reference date>".
	ErrBadUnits = errors.New("malformed time units")
)

const secsPerDay = 86400

// Calendar is a CF calendar.
type Calendar int

const (
	// Standard is the CF "standard"/"gregorian" calendar. It is treated as
	// proleptic Gregorian; model output never crosses the 1582 switch.
	Standard Calendar = iota
	ProlepticGregorian
	NoLeap
	AllLeap
	Day360
)

// ParseCalendar maps a CF calendar attribute to a Calendar. An empty name is
// the CF default, Standard.
func ParseCalendar(name string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard", "gregorian":
		return Standard, nil
	case "proleptic_gregorian":
		return ProlepticGregorian, nil
	case "noleap", "365_day":
		return NoLeap, nil
	case "all_leap", "366_day":
		return AllLeap, nil
	case "360_day":
		return Day360, nil
	}
	return Standard, errors.Wrapf(ErrUnsupportedCalendar, "%q", name)
}

func (c Calendar) String() string {
	switch c {
	case Standard:
		return "standard"
	case ProlepticGregorian:
		return "proleptic_gregorian"
	case NoLeap:
		return "noleap"
	case AllLeap:
		return "all_leap"
	case Day360:
		return "360_day"
	}
	return fmt.Sprintf("Calendar(%d)", int(c))
}

func (c Calendar) gregorian() bool {
	return c == Standard || c == ProlepticGregorian
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// DaysInMonth returns the length of month m of year under c.
func (c Calendar) DaysInMonth(year int, m time.Month) int {
	switch c {
	case Day360:
		return 30
	case AllLeap:
		if m == time.February {
			return 29
		}
	case NoLeap:
	default:
		if m == time.February && isLeap(year) {
			return 29
		}
	}
	return monthDays[m-1]
}

// DaysInYear returns the length of year under c.
func (c Calendar) DaysInYear(year int) int {
	switch c {
	case Day360:
		return 360
	case NoLeap:
		return 365
	case AllLeap:
		return 366
	}
	if isLeap(year) {
		return 366
	}
	return 365
}

// Date is a calendar-agnostic timestamp. Sec is the number of seconds elapsed
// since the start of Day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
	Sec   float64
}

// NewDate returns midnight of the given day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// CompareDay compares d and o at day precision.
func (d Date) CompareDay(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	}
	return cmpInt(d.Day, o.Day)
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or
// after o.
func (d Date) Compare(o Date) int {
	if c := d.CompareDay(o); c != 0 {
		return c
	}
	switch {
	case d.Sec < o.Sec:
		return -1
	case d.Sec > o.Sec:
		return 1
	}
	return 0
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }
func (d Date) Equal(o Date) bool  { return d.Compare(o) == 0 }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// dayOfYear is zero based.
func (d Date) dayOfYear(c Calendar) int {
	n := d.Day - 1
	for m := time.January; m < d.Month; m++ {
		n += c.DaysInMonth(d.Year, m)
	}
	return n
}

// DecimalYear returns d as a fractional year, e.g. 2020.5 for mid-2020.
func (d Date) DecimalYear(c Calendar) float64 {
	days := float64(d.dayOfYear(c)) + d.Sec/secsPerDay
	return float64(d.Year) + days/float64(c.DaysInYear(d.Year))
}

func (d Date) String() string {
	s := fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
	if d.Sec != 0 {
		sec := int(d.Sec)
		s += fmt.Sprintf(" %02d:%02d:%02d", sec/3600, sec/60%60, sec%60)
	}
	return s
}

// Units is a parsed CF time units attribute.
type Units struct {
	Scale float64 // seconds per unit
	Ref   Date
}

// ParseUnits parses strings such as "days since 1850-01-01 00:00:00".
func ParseUnits(units string) (Units, error) {
	fields := strings.Fields(strings.ReplaceAll(units, "T", " "))
	if len(fields) < 3 || strings.ToLower(fields[1]) != "since" {
		return Units{}, errors.Wrapf(ErrBadUnits, "%q", units)
	}
	var u Units
	switch strings.ToLower(fields[0]) {
	case "days", "day", "d":
		u.Scale = secsPerDay
	case "hours", "hour", "hrs", "hr", "h":
		u.Scale = 3600
	case "minutes", "minute", "mins", "min":
		u.Scale = 60
	case "seconds", "second", "secs", "sec", "s":
		u.Scale = 1
	default:
		return Units{}, errors.Wrapf(ErrBadUnits, "unknown unit in %q", units)
	}

	ymd := strings.Split(fields[2], "-")
	if len(ymd) != 3 {
		return Units{}, errors.Wrapf(ErrBadUnits, "reference date in %q", units)
	}
	var parts [3]int
	for i, s := range ymd {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Units{}, errors.Wrapf(ErrBadUnits, "reference date in %q", units)
		}
		parts[i] = v
	}
	if parts[1] < 1 || parts[1] > 12 || parts[2] < 1 || parts[2] > 31 {
		return Units{}, errors.Wrapf(ErrBadUnits, "reference date in %q", units)
	}
	u.Ref = NewDate(parts[0], time.Month(parts[1]), parts[2])

	if len(fields) > 3 && strings.Contains(fields[3], ":") {
		hms := strings.Split(strings.TrimSuffix(fields[3], "Z"), ":")
		mult := 3600.0
		for _, s := range hms {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return Units{}, errors.Wrapf(ErrBadUnits, "reference time in %q", units)
			}
			u.Ref.Sec += v * mult
			mult /= 60
		}
	}
	return u, nil
}

// Decode converts offsets expressed in units under the named calendar into
// dates.
func Decode(units, calendar string, offsets []float64) ([]Date, Calendar, error) {
	cal, err := ParseCalendar(calendar)
	if err != nil {
		return nil, cal, err
	}
	u, err := ParseUnits(units)
	if err != nil {
		return nil, cal, err
	}
	dates := make([]Date, len(offsets))
	for i, off := range offsets {
		dates[i] = cal.Add(u.Ref, off*u.Scale)
	}
	return dates, cal, nil
}

// Add returns d shifted by secs seconds under c.
func (c Calendar) Add(d Date, secs float64) Date {
	total := d.Sec + secs
	days := math.Floor(total / secsPerDay)
	rem := math.Round((total-days*secsPerDay)*1000) / 1000
	if rem >= secsPerDay {
		days++
		rem -= secsPerDay
	}
	out := c.addDays(d, int(days))
	out.Sec = rem
	return out
}

func (c Calendar) addDays(d Date, days int) Date {
	if c.gregorian() {
		t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		return NewDate(t.Year(), t.Month(), t.Day())
	}

	// Fixed-length years: count days from year zero.
	perYear := c.DaysInYear(0)
	n := d.Year*perYear + d.dayOfYear(c) + days
	year := floorDiv(n, perYear)
	doy := n - year*perYear
	m := time.January
	for doy >= c.DaysInMonth(year, m) {
		doy -= c.DaysInMonth(year, m)
		m++
	}
	return NewDate(year, m, doy+1)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
