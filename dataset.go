/*
Copyright © 2019 the MetCube authors.
This file is part of MetCube.

MetCube is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

MetCube is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with MetCube.  If not, see <http://www.gnu.org/licenses/>.
*/

package metcube

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/cdf"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/requestcache"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// NextData is a closure that returns the next data frame of an iterated
// variable, signaling the end of the sequence with io.EOF.
type NextData func() (*sparse.DenseArray, error)

// A GridDescriptor tells the accessor how to interpret a data file: where
// the file is, its map projection, and which coordinate variables belong
// to which dimensions. Descriptors are small TOML files kept next to the
// data.
type GridDescriptor struct {
	// File is the path of the NetCDF data file, relative to the
	// descriptor file when not absolute.
	File string `toml:"file"`

	// Projection is the proj4 definition of the horizontal grid.
	// The default is "+proj=longlat".
	Projection string `toml:"projection"`

	// FillValue, if set, overrides the _FillValue and missing_value
	// attributes in the file.
	FillValue *float64 `toml:"fill_value"`

	// Axes maps dimension names to the coordinate variables that hold
	// their values, for files where the two are named differently.
	Axes map[string]string `toml:"axes"`
}

// A GridDataset is an open handle on one gridded dataset. It owns the
// underlying file; Close releases it. A GridDataset is safe for
// concurrent reads through SelectCached but not through Select.
type GridDataset struct {
	// Log receives progress information. The default is the
	// standard logger.
	Log logrus.FieldLogger

	// CacheSize is the number of selections held by SelectCached.
	// The default is 100.
	CacheSize int

	descriptor GridDescriptor
	path       string
	sr         *proj.SR

	f  *os.File
	cf *cdf.File

	axes map[string]Axis

	cacheOnce sync.Once
	cache     *requestcache.Cache

	closed bool
}

// OpenDataset opens the dataset described by path, which may either be a
// TOML grid descriptor or a bare NetCDF file (in which case a longlat
// grid is assumed). All failures are reported as a *DatasetOpenError.
func OpenDataset(path string) (*GridDataset, error) {
	d := &GridDataset{
		Log:       logrus.StandardLogger(),
		CacheSize: 100,
		axes:      make(map[string]Axis),
	}
	if strings.HasSuffix(path, ".toml") {
		md, err := toml.DecodeFile(path, &d.descriptor)
		if err != nil {
			return nil, &DatasetOpenError{Path: path, Err: err}
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, &DatasetOpenError{Path: path,
				Err: fmt.Errorf("unknown descriptor keys %v", undec)}
		}
		if d.descriptor.File == "" {
			return nil, &DatasetOpenError{Path: path, Err: fmt.Errorf("descriptor does not name a data file")}
		}
		d.path = d.descriptor.File
		if !filepath.IsAbs(d.path) {
			d.path = filepath.Join(filepath.Dir(path), d.path)
		}
	} else {
		d.path = path
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, &DatasetOpenError{Path: path, Err: err}
	}
	d.f = f
	d.cf, err = cdf.Open(d.f)
	if err != nil {
		d.f.Close()
		return nil, &DatasetOpenError{Path: path, Err: err}
	}
	if d.descriptor.Projection == "" {
		// Files written by AnalysisData carry their projection.
		d.descriptor.Projection = attrText(d.cf.Header.GetAttribute("", "proj4"))
	}
	if d.descriptor.Projection == "" {
		d.descriptor.Projection = "+proj=longlat"
	}
	sr, err := proj.Parse(d.descriptor.Projection)
	if err != nil {
		d.f.Close()
		return nil, &DatasetOpenError{Path: path, Err: fmt.Errorf("parsing projection %s: %v", d.descriptor.Projection, err)}
	}
	d.sr = sr
	return d, nil
}

// Close releases the underlying file. Closing an already-closed dataset
// is a no-op.
func (d *GridDataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.f.Close()
}

// Path returns the path of the underlying data file.
func (d *GridDataset) Path() string { return d.path }

// Geographic reports whether the horizontal coordinates are degrees on a
// longlat grid rather than projected meters.
func (d *GridDataset) Geographic() bool {
	return d.sr.Name == "longlat"
}

// Projection returns the proj4 definition of the horizontal grid.
func (d *GridDataset) Projection() string { return d.descriptor.Projection }

// Vars returns the names of the variables in the dataset, sorted.
func (d *GridDataset) Vars() []string {
	vars := append([]string{}, d.cf.Header.Variables()...)
	sort.Strings(vars)
	return vars
}

// Axes returns the coordinate axes of the named variable in storage
// order.
func (d *GridDataset) Axes(variable string) ([]Axis, error) {
	dims := d.cf.Header.Lengths(variable)
	if len(dims) == 0 {
		return nil, &VariableNotFoundError{Variable: variable, Path: d.path}
	}
	names := d.cf.Header.Dimensions(variable)
	axes := make([]Axis, len(dims))
	for i := range dims {
		a, err := d.axisFor(names[i], dims[i])
		if err != nil {
			return nil, err
		}
		axes[i] = a
	}
	return axes, nil
}

// Select reads the named variable restricted to the given coordinate
// ranges, returning a field holding only the requested window. An
// unknown variable causes a *VariableNotFoundError; a range with no
// overlap with the axis coverage, or one naming an axis the variable
// does not have, causes a *RangeOutOfBoundsError. A range that overlaps
// the coverage but falls between grid points causes an
// *EmptyRangeError.
func (d *GridDataset) Select(variable string, ranges ...CoordinateRange) (*Field, error) {
	if d.closed {
		return nil, fmt.Errorf("metcube: select %s: dataset %s is closed", variable, d.path)
	}
	dims := d.cf.Header.Lengths(variable)
	if len(dims) == 0 {
		return nil, &VariableNotFoundError{Variable: variable, Path: d.path}
	}
	names := d.cf.Header.Dimensions(variable)
	axes := make([]Axis, len(dims))
	lo := make([]int, len(dims))
	hi := make([]int, len(dims))
	for i := range dims {
		a, err := d.axisFor(names[i], dims[i])
		if err != nil {
			return nil, err
		}
		axes[i] = a
		lo[i], hi[i] = 0, dims[i]-1
	}
	for _, r := range ranges {
		found := false
		for i, a := range axes {
			if a.Name != r.Axis {
				continue
			}
			l, h := a.window(r.Min, r.Max)
			if l > h {
				cLo, cHi := a.coverage()
				if r.Max < cLo || r.Min > cHi {
					return nil, &RangeOutOfBoundsError{Variable: variable, Axis: r.Axis,
						Min: r.Min, Max: r.Max, Lo: cLo, Hi: cHi}
				}
				return nil, &EmptyRangeError{Axis: r.Axis,
					Min: r.Min, Max: r.Max, Lo: cLo, Hi: cHi}
			}
			lo[i], hi[i] = l, h
			found = true
			break
		}
		if !found {
			return nil, &RangeOutOfBoundsError{Variable: variable, Axis: r.Axis,
				Min: r.Min, Max: r.Max, Lo: math.NaN(), Hi: math.NaN()}
		}
	}

	// The file layout only allows contiguous reads, so the leading
	// dimension is windowed at read time and the others in memory.
	raw, err := d.readRecords(variable, lo[0], hi[0])
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(dims))
	outAxes := make([]Axis, len(dims))
	for i := range dims {
		shape[i] = hi[i] - lo[i] + 1
		outAxes[i] = Axis{Name: axes[i].Name, Values: append([]float64{}, axes[i].Values[lo[i]:hi[i]+1]...)}
	}
	out := sparse.ZerosDense(shape...)
	idx := make([]int, len(shape))
	src := make([]int, len(shape))
	for i := range out.Elements {
		src[0] = idx[0]
		for j := 1; j < len(idx); j++ {
			src[j] = idx[j] + lo[j]
		}
		out.Elements[i] = raw.Get(src...)
		increment(idx, shape)
	}
	return &Field{
		Name:        variable,
		Units:       d.attrString(variable, "units"),
		Description: d.longName(variable),
		Axes:        outAxes,
		Data:        out,
	}, nil
}

// SelectCached is Select through a deduplicating in-memory cache, for
// repeated selections within one run. It is safe for concurrent use.
// Callers must copy the result before modifying it.
func (d *GridDataset) SelectCached(ctx context.Context, variable string, ranges ...CoordinateRange) (*Field, error) {
	d.cacheOnce.Do(func() {
		d.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			r := request.(*cachedSelect)
			return d.Select(r.variable, r.ranges...)
		}, runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(d.CacheSize))
	})
	req := d.cache.NewRequest(ctx, &cachedSelect{variable: variable, ranges: ranges},
		fmt.Sprintf("%s_%v", variable, ranges))
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.(*Field), nil
}

type cachedSelect struct {
	variable string
	ranges   []CoordinateRange
}

// RecordData returns an iterator over the leading (record) dimension of
// the named variable, yielding one frame per call and io.EOF at the end.
// This is the frame-at-a-time access used for streamed computations.
func (d *GridDataset) RecordData(variable string) NextData {
	rec := 0
	return func() (*sparse.DenseArray, error) {
		dims := d.cf.Header.Lengths(variable)
		if len(dims) == 0 {
			return nil, &VariableNotFoundError{Variable: variable, Path: d.path}
		}
		if rec >= dims[0] {
			return nil, io.EOF
		}
		data, err := d.readRecords(variable, rec, rec)
		if err != nil {
			return nil, err
		}
		rec++
		// Drop the leading length-1 dimension.
		start := make([]int, len(dims))
		end := make([]int, len(dims))
		for i := 1; i < len(dims); i++ {
			end[i] = dims[i] - 1
		}
		return data.Subset(start, end), nil
	}
}

// readRecords reads the slabs [rec0, rec1] of the leading dimension of
// the named variable, converting to float64 and replacing fill values
// with NaN.
func (d *GridDataset) readRecords(variable string, rec0, rec1 int) (*sparse.DenseArray, error) {
	dims := d.cf.Header.Lengths(variable)
	shape := append([]int{rec1 - rec0 + 1}, dims[1:]...)
	nread := 1
	for _, n := range shape {
		nread *= n
	}
	begin := make([]int, len(dims))
	end := make([]int, len(dims))
	begin[0], end[0] = rec0, rec1+1
	r := d.cf.Reader(variable, begin, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("metcube: reading variable %s from %s: %v", variable, d.path, err)
	}
	data := sparse.ZerosDense(shape...)
	switch b := buf.(type) {
	case []float64:
		copy(data.Elements, b)
	case []float32:
		for i, v := range b {
			data.Elements[i] = float64(v)
		}
	case []int32:
		for i, v := range b {
			data.Elements[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("metcube: variable %s has unsupported type %T", variable, buf)
	}
	if fill, ok := d.fillValue(variable); ok {
		for i, v := range data.Elements {
			if v == fill {
				data.Elements[i] = math.NaN()
			}
		}
	}
	return data, nil
}

// fillValue returns the missing-data marker for a variable: the
// descriptor override if set, otherwise the _FillValue or missing_value
// attribute.
func (d *GridDataset) fillValue(variable string) (float64, bool) {
	if d.descriptor.FillValue != nil {
		return *d.descriptor.FillValue, true
	}
	for _, attr := range []string{"_FillValue", "missing_value"} {
		if v, ok := attrFloat(d.cf.Header.GetAttribute(variable, attr)); ok {
			return v, true
		}
	}
	return 0, false
}

// axisFor returns the coordinate axis for the named dimension. The
// coordinates come from the same-named variable (or the descriptor's
// mapping) when one exists; otherwise the axis is the index sequence
// 0..n-1. For curvilinear two-dimensional coordinate variables the
// leading row or column is used.
func (d *GridDataset) axisFor(dim string, length int) (Axis, error) {
	if a, ok := d.axes[dim]; ok {
		return a, nil
	}
	coordVar := dim
	if v, ok := d.descriptor.Axes[dim]; ok {
		coordVar = v
	}
	a := Axis{Name: dim}
	cdims := d.cf.Header.Lengths(coordVar)
	switch {
	case len(cdims) == 1 && cdims[0] == length:
		data, err := d.readRecords(coordVar, 0, length-1)
		if err != nil {
			return Axis{}, err
		}
		a.Values = data.Elements
	case len(cdims) == 2:
		data, err := d.readRecords(coordVar, 0, cdims[0]-1)
		if err != nil {
			return Axis{}, err
		}
		cnames := d.cf.Header.Dimensions(coordVar)
		a.Values = make([]float64, length)
		if cnames[0] == dim && cdims[0] == length {
			for i := 0; i < length; i++ {
				a.Values[i] = data.Get(i, 0)
			}
		} else if cnames[1] == dim && cdims[1] == length {
			for i := 0; i < length; i++ {
				a.Values[i] = data.Get(0, i)
			}
		} else {
			return Axis{}, fmt.Errorf("metcube: coordinate variable %s does not span dimension %s", coordVar, dim)
		}
	default:
		a.Values = make([]float64, length)
		for i := range a.Values {
			a.Values[i] = float64(i)
		}
	}
	if err := a.validate(); err != nil {
		return Axis{}, err
	}
	d.axes[dim] = a
	return a, nil
}

// longName returns the human-readable name of a variable from its
// description or long_name attribute.
func (d *GridDataset) longName(variable string) string {
	if s := d.attrString(variable, "description"); s != "" {
		return s
	}
	return d.attrString(variable, "long_name")
}

func (d *GridDataset) attrString(variable, attr string) string {
	return attrText(d.cf.Header.GetAttribute(variable, attr))
}

// attrText extracts a string from a NetCDF attribute value.
func attrText(attr interface{}) string {
	if v, ok := attr.(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// attrFloat extracts a scalar number from a NetCDF attribute value.
func attrFloat(attr interface{}) (float64, bool) {
	switch a := attr.(type) {
	case []float64:
		if len(a) > 0 {
			return a[0], true
		}
	case []float32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []int32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	}
	return 0, false
}
