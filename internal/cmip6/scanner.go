package cmip6

import (
	"math"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/rtm0/cmip6/internal/cftime"
	"github.com/rtm0/cmip6/internal/field"
)

var (
	latNames = []string{"lat", "latitude", "nav_lat"}
	lonNames = []string{"lon", "longitude", "nav_lon"}
)

// Scanner retrieves a variable from a granule one time step at a time.
type Scanner struct {
	nc       api.Group
	path     string
	variable string
	units    string
	fill     []float64
	grid     field.Grid
	ts       []cftime.Date
	cal      cftime.Calendar
	data     api.VarGetter
	pos      int
	step     []float64
	err      error
}

// NewScanner opens a granule and reads its coordinates and time axis.
func NewScanner(filePath, variable string) (*Scanner, error) {
	nc, err := netcdf.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", filePath)
	}
	s := &Scanner{nc: nc, path: filePath, variable: variable}
	if err := s.init(); err != nil {
		nc.Close()
		return nil, errors.Wrapf(err, "%s", filePath)
	}
	return s, nil
}

func (s *Scanner) init() error {
	var err error
	s.data, err = s.nc.GetVarGetter(s.variable)
	if err != nil {
		return errors.Wrapf(err, "variable %q", s.variable)
	}
	if dims := s.data.Dimensions(); len(dims) != 3 {
		return errors.Errorf("variable %q has dimensions %v, want (time, y, x)", s.variable, dims)
	}
	attrs := s.data.Attributes()
	s.units = stringAttr(attrs, "units")
	for _, name := range []string{"_FillValue", "missing_value"} {
		if v, ok := floatAttr(attrs, name); ok {
			s.fill = append(s.fill, v)
		}
	}

	if s.grid, err = s.readGrid(); err != nil {
		return err
	}

	tv, err := s.nc.GetVariable("time")
	if err != nil {
		return errors.Wrap(err, "time axis")
	}
	offsets, err := toFloat64s(tv.Values)
	if err != nil {
		return errors.Wrap(err, "time axis")
	}
	s.ts, s.cal, err = cftime.Decode(stringAttr(tv.Attributes, "units"), stringAttr(tv.Attributes, "calendar"), offsets)
	if err != nil {
		return errors.Wrap(err, "time axis")
	}
	if n := s.data.Len(); n != int64(len(s.ts)) {
		return errors.Errorf("variable %q has %d time steps, time axis has %d", s.variable, n, len(s.ts))
	}
	return nil
}

func (s *Scanner) coordinate(names []string) (*api.Variable, string, error) {
	for _, name := range names {
		v, err := s.nc.GetVariable(name)
		if err == nil {
			return v, name, nil
		}
	}
	return nil, "", errors.Errorf("none of the coordinates %v found", names)
}

// readGrid accepts 1-D (rectilinear) or 2-D (curvilinear) coordinates.
func (s *Scanner) readGrid() (field.Grid, error) {
	latVar, latName, err := s.coordinate(latNames)
	if err != nil {
		return field.Grid{}, err
	}
	lonVar, lonName, err := s.coordinate(lonNames)
	if err != nil {
		return field.Grid{}, err
	}

	if lat, err := toFloat64s(latVar.Values); err == nil {
		lon, err := toFloat64s(lonVar.Values)
		if err != nil {
			return field.Grid{}, errors.Wrapf(err, "%s with 1-D %s", lonName, latName)
		}
		return field.Grid{Lat: lat, Lon: lon}, nil
	}

	lat, ny, nx, err := flatten2D(latVar.Values)
	if err != nil {
		return field.Grid{}, errors.Wrap(err, latName)
	}
	lon, lny, lnx, err := flatten2D(lonVar.Values)
	if err != nil {
		return field.Grid{}, errors.Wrap(err, lonName)
	}
	if lny != ny || lnx != nx {
		return field.Grid{}, errors.Errorf("%s is %dx%d, %s is %dx%d", latName, ny, nx, lonName, lny, lnx)
	}
	g := field.Grid{Lat: make([]float64, ny), Lon: make([]float64, nx), CellLat: lat}
	for y := range g.Lat {
		g.Lat[y] = stat.Mean(lat[y*nx:(y+1)*nx], nil)
	}
	col := make([]float64, ny)
	for x := range g.Lon {
		for y := range col {
			col[y] = lon[y*nx+x]
		}
		g.Lon[x] = stat.Mean(col, nil)
	}
	return g, nil
}

// Close closes the scanner.
func (s *Scanner) Close() {
	s.nc.Close()
}

// Summary returns the summary information about the granule suitable for
// logging.
func (s *Scanner) Summary() []any {
	sum := []any{
		"variable", s.variable,
		"units", s.units,
		"calendar", s.cal.String(),
		"tsCnt", len(s.ts),
		"yCnt", s.grid.NY(),
		"xCnt", s.grid.NX(),
		"curvilinear", s.grid.Curvilinear(),
	}
	if len(s.ts) > 0 {
		sum = append(sum, "first", s.ts[0].String(), "last", s.ts[len(s.ts)-1].String())
	}
	return sum
}

// Times returns the decoded time axis.
func (s *Scanner) Times() []cftime.Date { return s.ts }

// Grid returns the spatial grid.
func (s *Scanner) Grid() field.Grid { return s.grid }

// Scan reads the next time step.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.pos >= len(s.ts) {
		return false
	}
	begin := int64(s.pos)
	v, err := s.data.GetSlice(begin, begin+1)
	if err != nil {
		s.err = errors.Wrapf(err, "%s step %d", s.variable, s.pos)
		return false
	}
	step, ny, nx, err := flattenStep(v)
	if err != nil {
		s.err = errors.Wrapf(err, "%s step %d", s.variable, s.pos)
		return false
	}
	if ny != s.grid.NY() || nx != s.grid.NX() {
		s.err = errors.Errorf("%s step %d is %dx%d, grid is %dx%d", s.variable, s.pos, ny, nx, s.grid.NY(), s.grid.NX())
		return false
	}
	for i, x := range step {
		for _, f := range s.fill {
			if x == f {
				step[i] = math.NaN()
			}
		}
	}
	s.step = step
	s.pos++
	return true
}

// Step returns the values read by the last Scan, row-major with missing
// values as NaN. Ownership passes to the caller.
func (s *Scanner) Step() []float64 {
	step := s.step
	s.step = nil
	return step
}

// Err returns the error that stopped Scan, if any.
func (s *Scanner) Err() error { return s.err }

// ReadField reads a whole granule into a field.
func ReadField(path, variable string) (*field.Field, error) {
	s, err := NewScanner(path, variable)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.ReadAll()
}

// ReadAll scans the remaining time steps into a field.
func (s *Scanner) ReadAll() (*field.Field, error) {
	f := &field.Field{
		Variable: s.variable,
		Units:    s.units,
		Calendar: s.cal,
		Times:    s.ts,
		Grid:     s.grid,
		Data:     make([]float64, 0, len(s.ts)*s.grid.Size()),
	}
	for s.Scan() {
		f.Data = append(f.Data, s.Step()...)
	}
	if s.Err() != nil {
		return nil, errors.Wrapf(s.Err(), "%s", s.path)
	}
	return f, f.Validate()
}

func stringAttr(attrs api.AttributeMap, name string) string {
	if attrs == nil {
		return ""
	}
	v, ok := attrs.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func floatAttr(attrs api.AttributeMap, name string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(name)
	if !ok {
		return 0, false
	}
	vals, err := toFloat64s(v)
	if err == nil && len(vals) > 0 {
		return vals[0], true
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int32:
		return float64(x), true
	case int16:
		return float64(x), true
	}
	return 0, false
}

func toFloat64s(v any) ([]float64, error) {
	switch x := v.(type) {
	case []float64:
		return x, nil
	case []float32:
		return convert(x), nil
	case []int64:
		return convert(x), nil
	case []int32:
		return convert(x), nil
	case []int16:
		return convert(x), nil
	case []int8:
		return convert(x), nil
	}
	return nil, errors.Errorf("unsupported 1-D value type %T", v)
}

func convert[T float32 | int64 | int32 | int16 | int8](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func flatten2D(v any) ([]float64, int, int, error) {
	var rows [][]float64
	switch x := v.(type) {
	case [][]float64:
		rows = x
	case [][]float32:
		rows = make([][]float64, len(x))
		for i := range x {
			rows[i] = convert(x[i])
		}
	default:
		return nil, 0, 0, errors.Errorf("unsupported 2-D value type %T", v)
	}
	if len(rows) == 0 {
		return nil, 0, 0, errors.New("empty 2-D value")
	}
	nx := len(rows[0])
	out := make([]float64, 0, len(rows)*nx)
	for i, r := range rows {
		if len(r) != nx {
			return nil, 0, 0, errors.Errorf("ragged row %d", i)
		}
		out = append(out, r...)
	}
	return out, len(rows), nx, nil
}

// flattenStep unwraps the (1, y, x) slab returned for a single time step.
func flattenStep(v any) ([]float64, int, int, error) {
	switch x := v.(type) {
	case [][][]float64:
		if len(x) != 1 {
			return nil, 0, 0, errors.Errorf("slab of %d steps", len(x))
		}
		return flatten2D(x[0])
	case [][][]float32:
		if len(x) != 1 {
			return nil, 0, 0, errors.Errorf("slab of %d steps", len(x))
		}
		return flatten2D(x[0])
	}
	return nil, 0, 0, errors.Errorf("unsupported 3-D value type %T", v)
}
