package cmip6

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/cmip6/internal/cftime"
)

// ErrBadFilename is returned by ParseFilename for names that do not follow
// the CMIP6 file naming convention.
var ErrBadFilename = errors.New("not a CMIP6 file name")

// Filename holds the components of a CMIP6 file name:
//
//	<variable>_<table>_<source>_<experiment>_<member>_<grid>[_<start>-<end>].nc
type Filename struct {
	Variable   string
	Table      string
	Source     string
	Experiment string
	Member     string
	Grid       string

	// Start and End are set when the name carries a time range.
	Start, End cftime.Date
	HasRange   bool
}

// ParseFilename parses the base name of a CMIP6 granule.
func ParseFilename(name string) (Filename, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".nc") {
		return Filename{}, errors.Wrapf(ErrBadFilename, "%q", base)
	}
	parts := strings.Split(strings.TrimSuffix(base, ".nc"), "_")
	if len(parts) != 6 && len(parts) != 7 {
		return Filename{}, errors.Wrapf(ErrBadFilename, "%q has %d components", base, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Filename{}, errors.Wrapf(ErrBadFilename, "%q has an empty component", base)
		}
	}
	fn := Filename{
		Variable:   parts[0],
		Table:      parts[1],
		Source:     parts[2],
		Experiment: parts[3],
		Member:     parts[4],
		Grid:       parts[5],
	}
	if len(parts) == 6 {
		return fn, nil
	}

	from, to, ok := strings.Cut(parts[6], "-")
	if !ok {
		return fn, errors.Wrapf(ErrBadFilename, "%q: time range %q", base, parts[6])
	}
	var err error
	if fn.Start, err = parseStamp(from); err != nil {
		return fn, errors.Wrapf(ErrBadFilename, "%q: start %q", base, from)
	}
	if fn.End, err = parseStamp(to); err != nil {
		return fn, errors.Wrapf(ErrBadFilename, "%q: end %q", base, to)
	}
	fn.HasRange = true
	return fn, nil
}

// parseStamp reads YYYY, YYYYMM, YYYYMMDD or longer stamps; anything past the
// day is ignored.
func parseStamp(s string) (cftime.Date, error) {
	if len(s) < 4 {
		return cftime.Date{}, errors.Errorf("stamp %q too short", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return cftime.Date{}, errors.Errorf("stamp %q is not numeric", s)
		}
	}
	year, _ := strconv.Atoi(s[:4])
	month, day := 1, 1
	if len(s) >= 6 {
		month, _ = strconv.Atoi(s[4:6])
	}
	if len(s) >= 8 {
		day, _ = strconv.Atoi(s[6:8])
	}
	if month < 1 || month > 12 || day < 1 {
		return cftime.Date{}, errors.Errorf("stamp %q out of range", s)
	}
	// The name does not carry the calendar, so accept any day that some
	// supported calendar has: Feb 30 exists in 360_day, Feb 31 nowhere.
	m := time.Month(month)
	if day > max(cftime.AllLeap.DaysInMonth(year, m), cftime.Day360.DaysInMonth(year, m)) {
		return cftime.Date{}, errors.Errorf("stamp %q: no day %d in %v", s, day, m)
	}
	return cftime.NewDate(year, m, day), nil
}

// Granule is one file covering part of a variable's time series.
type Granule struct {
	Path string
	Name Filename

	// Start is the granule's first timestamp: from the file name when it
	// carries a time range, otherwise from the file's own time axis once the
	// granule has been read.
	Start      cftime.Date
	StartKnown bool
}

// NewGranule parses path's file name. A name that does not parse leaves Start
// unknown until the file is opened.
func NewGranule(path string) Granule {
	g := Granule{Path: path}
	fn, err := ParseFilename(path)
	g.Name = fn
	if err == nil && fn.HasRange {
		g.Start = fn.Start
		g.StartKnown = true
	}
	return g
}
