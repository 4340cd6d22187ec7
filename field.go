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
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
)

// An Axis is one coordinate axis of a gridded field. Values must be
// strictly ascending.
type Axis struct {
	Name   string
	Values []float64
}

func (a Axis) validate() error {
	if len(a.Values) == 0 {
		return fmt.Errorf("metcube: axis %s has no coordinates", a.Name)
	}
	for i := 0; i < len(a.Values)-1; i++ {
		if a.Values[i+1] <= a.Values[i] {
			return fmt.Errorf("metcube: axis %s coordinates not strictly ascending at index %d", a.Name, i)
		}
	}
	return nil
}

// window returns the index interval [lo, hi] of the coordinates within
// the inclusive range [min, max]. lo > hi means the range selects nothing.
func (a Axis) window(min, max float64) (lo, hi int) {
	lo = sort.SearchFloat64s(a.Values, min)
	hi = sort.SearchFloat64s(a.Values, max)
	if hi == len(a.Values) || a.Values[hi] > max {
		hi--
	}
	return lo, hi
}

func (a Axis) coverage() (lo, hi float64) {
	return a.Values[0], a.Values[len(a.Values)-1]
}

// A CoordinateRange restricts one coordinate axis to the inclusive
// interval [Min, Max]. Use -Inf or +Inf for an unbounded side. An axis
// with no restriction is unrestricted.
type CoordinateRange struct {
	Axis     string
	Min, Max float64
}

// AxisRange returns an unbounded range on the named axis.
func AxisRange(axis string) CoordinateRange {
	return CoordinateRange{Axis: axis, Min: math.Inf(-1), Max: math.Inf(1)}
}

// A Field is a dense gridded data variable together with its coordinate
// axes. Axes are ordered to match the shape of Data; the canonical order
// for atmospheric cubes is member, time, level, lat, lon, with any leading
// subset absent. Provenance records the operations that produced the
// field, oldest first; a field read directly from a dataset has none.
type Field struct {
	Name        string
	Units       string
	Description string
	Axes        []Axis
	Data        *sparse.DenseArray
	Provenance  []string
}

// NewField creates a field from data and axes, checking that the axis
// lengths match the data shape.
func NewField(name string, data *sparse.DenseArray, axes ...Axis) (*Field, error) {
	if len(axes) != len(data.Shape) {
		return nil, fmt.Errorf("metcube: field %s: %d axes for %d-dimensional data", name, len(axes), len(data.Shape))
	}
	for i, a := range axes {
		if err := a.validate(); err != nil {
			return nil, err
		}
		if len(a.Values) != data.Shape[i] {
			return nil, fmt.Errorf("metcube: field %s: axis %s has %d coordinates but data dimension %d has length %d",
				name, a.Name, len(a.Values), i, data.Shape[i])
		}
	}
	return &Field{Name: name, Data: data, Axes: axes}, nil
}

// Copy returns a deep copy of the field.
func (f *Field) Copy() *Field {
	o := &Field{
		Name:        f.Name,
		Units:       f.Units,
		Description: f.Description,
		Data:        f.Data.Copy(),
		Axes:        make([]Axis, len(f.Axes)),
		Provenance:  append([]string{}, f.Provenance...),
	}
	for i, a := range f.Axes {
		o.Axes[i] = Axis{Name: a.Name, Values: append([]float64{}, a.Values...)}
	}
	return o
}

// Squeeze returns a copy of the field without its single-point axes.
// A fully reduced field keeps its last axis so the shape stays
// nonempty.
func (f *Field) Squeeze() *Field {
	var axes []Axis
	for _, a := range f.Axes {
		if len(a.Values) > 1 {
			axes = append(axes, Axis{Name: a.Name, Values: append([]float64{}, a.Values...)})
		}
	}
	if len(axes) == 0 {
		last := f.Axes[len(f.Axes)-1]
		axes = append(axes, Axis{Name: last.Name, Values: append([]float64{}, last.Values...)})
	}
	shape := make([]int, len(axes))
	for i, a := range axes {
		shape[i] = len(a.Values)
	}
	o := &Field{
		Name:        f.Name,
		Units:       f.Units,
		Description: f.Description,
		Axes:        axes,
		Data:        sparse.ZerosDense(shape...),
		Provenance:  append([]string{}, f.Provenance...),
	}
	copy(o.Data.Elements, f.Data.Elements)
	return o
}

// Axis returns the named axis and its position, or ok == false if the
// field does not have it.
func (f *Field) Axis(name string) (Axis, int, bool) {
	for i, a := range f.Axes {
		if a.Name == name {
			return a, i, true
		}
	}
	return Axis{}, -1, false
}

func (f *Field) describeAxes() string {
	s := make([]string, len(f.Axes))
	for i, a := range f.Axes {
		s[i] = fmt.Sprintf("%s:%d", a.Name, len(a.Values))
	}
	return "(" + strings.Join(s, " ") + ")"
}

// residual returns the positions of the axes that have more than one
// point. Axes already reduced to a single point do not take part in
// conformability checks.
func (f *Field) residual() []int {
	var r []int
	for i, a := range f.Axes {
		if len(a.Values) > 1 {
			r = append(r, i)
		}
	}
	return r
}

// conformable checks that two fields share the same residual axes in
// the same order with equal coordinates. Size-1 axes are ignored, so a
// field reduced over time still conforms with one that never had a
// time axis.
func conformable(op string, a, b *Field) error {
	mismatch := func() error {
		return &DimensionMismatchError{Op: op, A: a.describeAxes(), B: b.describeAxes()}
	}
	ra, rb := a.residual(), b.residual()
	if len(ra) != len(rb) {
		return mismatch()
	}
	for i := range ra {
		axA, axB := a.Axes[ra[i]], b.Axes[rb[i]]
		if axA.Name != axB.Name {
			return mismatch()
		}
		if !floats.Equal(axA.Values, axB.Values) {
			return mismatch()
		}
	}
	return nil
}

// alignTo maps index positions in template t to index positions in o.
// The returned slice has one entry per axis of o holding the position
// of the matching residual axis in t, or -1 for o's size-1 axes, which
// always index at zero. conformable(t, o) must hold.
func alignTo(t, o *Field) []int {
	tr := t.residual()
	m := make([]int, len(o.Axes))
	k := 0
	for j, a := range o.Axes {
		if len(a.Values) == 1 {
			m[j] = -1
			continue
		}
		m[j] = tr[k]
		k++
	}
	return m
}

// subset returns the part of the field within the given coordinate
// restrictions. Axes without a restriction pass through whole. A
// restriction that selects nothing causes an EmptyRangeError; one that
// names an axis the field does not have causes a RangeOutOfBoundsError.
func (f *Field) subset(ranges []CoordinateRange) (*Field, error) {
	lo := make([]int, len(f.Axes))
	hi := make([]int, len(f.Axes))
	for i, a := range f.Axes {
		lo[i], hi[i] = 0, len(a.Values)-1
	}
	for _, r := range ranges {
		a, i, ok := f.Axis(r.Axis)
		if !ok {
			return nil, &RangeOutOfBoundsError{Variable: f.Name, Axis: r.Axis,
				Min: r.Min, Max: r.Max, Lo: math.NaN(), Hi: math.NaN()}
		}
		l, h := a.window(r.Min, r.Max)
		if l > h {
			cLo, cHi := a.coverage()
			return nil, &EmptyRangeError{Axis: r.Axis, Min: r.Min, Max: r.Max, Lo: cLo, Hi: cHi}
		}
		lo[i], hi[i] = l, h
	}
	axes := make([]Axis, len(f.Axes))
	shape := make([]int, len(f.Axes))
	for i, a := range f.Axes {
		axes[i] = Axis{Name: a.Name, Values: append([]float64{}, a.Values[lo[i]:hi[i]+1]...)}
		shape[i] = hi[i] - lo[i] + 1
	}
	out := sparse.ZerosDense(shape...)
	idx := make([]int, len(shape))
	src := make([]int, len(shape))
	for i := range out.Elements {
		for j := range idx {
			src[j] = idx[j] + lo[j]
		}
		out.Elements[i] = f.Data.Get(src...)
		increment(idx, shape)
	}
	return &Field{
		Name:        f.Name,
		Units:       f.Units,
		Description: f.Description,
		Axes:        axes,
		Data:        out,
		Provenance:  append([]string{}, f.Provenance...),
	}, nil
}

// increment advances a multi-dimensional index in row-major order.
func increment(idx, shape []int) {
	for j := len(idx) - 1; j >= 0; j-- {
		idx[j]++
		if idx[j] < shape[j] {
			return
		}
		idx[j] = 0
	}
}

// derive constructs the provenance chain for the result of an operation.
func derive(op string, parents ...*Field) []string {
	var p []string
	for _, f := range parents {
		p = append(p, f.Provenance...)
	}
	return append(p, op)
}
