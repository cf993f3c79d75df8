package field

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/cmip6/internal/cftime"
)

// Window is a closed calendar interval. Membership is decided at day
// precision, so every time step on the End day is inside the window.
type Window struct {
	Start cftime.Date
	End   cftime.Date
}

// Years returns the window from January 1 of start to December 31 of end.
func Years(start, end int) Window {
	return Window{
		Start: cftime.NewDate(start, time.January, 1),
		End:   cftime.NewDate(end, time.December, 31),
	}
}

// Decade returns the ten-year window beginning in start.
func Decade(start int) Window {
	return Years(start, start+9)
}

// Decades returns consecutive decades covering first through last.
func Decades(first, last int) []Window {
	var ws []Window
	for y := first; y <= last; y += 10 {
		ws = append(ws, Decade(y))
	}
	return ws
}

// ParseWindow parses "2020-2029" (whole years) or "2020-01-01:2029-12-31".
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	var w Window
	if from, to, ok := strings.Cut(s, ":"); ok {
		start, err := parseDay(from)
		if err != nil {
			return w, errors.Wrapf(err, "window %q", s)
		}
		end, err := parseDay(to)
		if err != nil {
			return w, errors.Wrapf(err, "window %q", s)
		}
		w = Window{Start: start, End: end}
	} else {
		from, to, ok := strings.Cut(s, "-")
		if !ok {
			return w, errors.Errorf("window %q: want START-END years or START:END days", s)
		}
		start, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return w, errors.Wrapf(err, "window %q", s)
		}
		end, err := strconv.Atoi(strings.TrimSpace(to))
		if err != nil {
			return w, errors.Wrapf(err, "window %q", s)
		}
		w = Years(start, end)
	}
	if w.End.CompareDay(w.Start) < 0 {
		return Window{}, errors.Errorf("window %q ends before it starts", s)
	}
	return w, nil
}

func parseDay(s string) (cftime.Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return cftime.Date{}, err
	}
	return cftime.NewDate(t.Year(), t.Month(), t.Day()), nil
}

// IsZero reports whether w is the zero window.
func (w Window) IsZero() bool {
	return w == Window{}
}

// Contains reports whether d falls on or between the window's start and end
// days.
func (w Window) Contains(d cftime.Date) bool {
	return d.CompareDay(w.Start) >= 0 && d.CompareDay(w.End) <= 0
}

// Overlaps reports whether w and o share at least one day.
func (w Window) Overlaps(o Window) bool {
	return w.Start.CompareDay(o.End) <= 0 && o.Start.CompareDay(w.End) <= 0
}

func (w Window) wholeYears() bool {
	return w.Start.Month == time.January && w.Start.Day == 1 &&
		w.End.Month == time.December && w.End.Day == 31
}

func (w Window) String() string {
	if w.wholeYears() {
		return fmt.Sprintf("%d-%d", w.Start.Year, w.End.Year)
	}
	return w.Start.String() + ":" + w.End.String()
}
