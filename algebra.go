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
	"strings"

	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
)

// Scale returns a new field with every element of f multiplied by k.
// Scaling composes: scaling by k1 and then k2 equals scaling by k1*k2.
func Scale(f *Field, k float64) *Field {
	out := f.Copy()
	out.Data = f.Data.ScaleCopy(k)
	out.Provenance = derive(fmt.Sprintf("scale(%g)", k), f)
	return out
}

// Average returns the unweighted arithmetic mean of f over the named
// axes, restricted to the given coordinate ranges. Each reduced axis is
// kept with length one, its coordinate set to the mean of the coordinates
// that went into the reduction; unlisted axes pass through. NaN elements
// are treated as missing and skipped; an all-NaN selection yields NaN. A
// restriction that selects zero points causes an *EmptyRangeError.
func Average(f *Field, over []string, ranges ...CoordinateRange) (*Field, error) {
	sub, err := f.subset(ranges)
	if err != nil {
		return nil, err
	}
	reduce := make([]bool, len(sub.Axes))
	for _, name := range over {
		_, i, ok := sub.Axis(name)
		if !ok {
			return nil, fmt.Errorf("metcube: average: field %s has no axis %s", f.Name, name)
		}
		reduce[i] = true
	}

	shape := make([]int, len(sub.Axes))
	axes := make([]Axis, len(sub.Axes))
	for i, a := range sub.Axes {
		if reduce[i] {
			shape[i] = 1
			mean := 0.
			for _, v := range a.Values {
				mean += v
			}
			axes[i] = Axis{Name: a.Name, Values: []float64{mean / float64(len(a.Values))}}
		} else {
			shape[i] = len(a.Values)
			axes[i] = Axis{Name: a.Name, Values: append([]float64{}, a.Values...)}
		}
	}

	sum := sparse.ZerosDense(shape...)
	count := sparse.ZerosDense(shape...)
	idx := make([]int, len(shape))
	dst := make([]int, len(shape))
	subShape := sub.Data.GetShape()
	for _, v := range sub.Data.Elements {
		if !math.IsNaN(v) {
			for j := range idx {
				if reduce[j] {
					dst[j] = 0
				} else {
					dst[j] = idx[j]
				}
			}
			sum.AddVal(v, dst...)
			count.AddVal(1, dst...)
		}
		increment(idx, subShape)
	}
	for i, n := range count.Elements {
		if n == 0 {
			sum.Elements[i] = math.NaN()
		} else {
			sum.Elements[i] /= n
		}
	}

	op := fmt.Sprintf("average(%s)", strings.Join(over, ","))
	if len(ranges) > 0 {
		op = fmt.Sprintf("average(%s within %v)", strings.Join(over, ","), ranges)
	}
	return &Field{
		Name:        f.Name,
		Units:       f.Units,
		Description: f.Description,
		Axes:        axes,
		Data:        sum,
		Provenance:  derive(op, f),
	}, nil
}

// Add returns the element-wise sum a + b. The operands must share
// compatible axes.
func Add(a, b *Field) (*Field, error) {
	return combine("add", a, b, func(x, y float64) float64 { return x + y })
}

// Subtract returns the element-wise difference a - b. The operands must
// share compatible axes.
func Subtract(a, b *Field) (*Field, error) {
	return combine("subtract", a, b, func(x, y float64) float64 { return x - y })
}

// Multiply returns the element-wise product a * b. The operands must
// share compatible axes.
func Multiply(a, b *Field) (*Field, error) {
	return combine("multiply", a, b, func(x, y float64) float64 { return x * y })
}

// Divide returns the element-wise quotient a / b. Division by zero
// yields NaN, following the missing-data convention. The operands must
// share compatible axes.
func Divide(a, b *Field) (*Field, error) {
	return combine("divide", a, b, func(x, y float64) float64 {
		if y == 0 {
			return math.NaN()
		}
		return x / y
	})
}

// Concat joins fields end to end along the named axis, which every part
// must carry at the same position. All other axes must match exactly,
// and the joined coordinates must remain strictly ascending across the
// parts.
func Concat(axis string, parts ...*Field) (*Field, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("metcube: concat along %s of no fields", axis)
	}
	first := parts[0]
	_, ti, ok := first.Axis(axis)
	if !ok {
		return nil, fmt.Errorf("metcube: concat: field %s has no axis %s", first.Name, axis)
	}
	var joined []float64
	total := 0
	for _, p := range parts {
		if len(p.Axes) != len(first.Axes) {
			return nil, &DimensionMismatchError{Op: "concat", A: first.describeAxes(), B: p.describeAxes()}
		}
		for i, a := range p.Axes {
			if a.Name != first.Axes[i].Name {
				return nil, &DimensionMismatchError{Op: "concat", A: first.describeAxes(), B: p.describeAxes()}
			}
			if i == ti {
				continue
			}
			if !floats.Equal(a.Values, first.Axes[i].Values) {
				return nil, &DimensionMismatchError{Op: "concat", A: first.describeAxes(), B: p.describeAxes()}
			}
		}
		joined = append(joined, p.Axes[ti].Values...)
		total += len(p.Axes[ti].Values)
	}
	joinedAxis := Axis{Name: axis, Values: joined}
	if err := joinedAxis.validate(); err != nil {
		return nil, fmt.Errorf("metcube: concat along %s: %v", axis, err)
	}

	axes := make([]Axis, len(first.Axes))
	shape := make([]int, len(first.Axes))
	for i, a := range first.Axes {
		if i == ti {
			axes[i] = joinedAxis
			shape[i] = total
		} else {
			axes[i] = Axis{Name: a.Name, Values: append([]float64{}, a.Values...)}
			shape[i] = len(a.Values)
		}
	}
	out := sparse.ZerosDense(shape...)
	offset := 0
	dst := make([]int, len(shape))
	for _, p := range parts {
		pShape := p.Data.GetShape()
		idx := make([]int, len(pShape))
		for _, v := range p.Data.Elements {
			copy(dst, idx)
			dst[ti] += offset
			out.Set(v, dst...)
			increment(idx, pShape)
		}
		offset += len(p.Axes[ti].Values)
	}
	return &Field{
		Name:        first.Name,
		Units:       first.Units,
		Description: first.Description,
		Axes:        axes,
		Data:        out,
		Provenance:  derive(fmt.Sprintf("concat(%s)", axis), parts...),
	}, nil
}

func combine(op string, a, b *Field, fn func(x, y float64) float64) (*Field, error) {
	if err := conformable(op, a, b); err != nil {
		return nil, err
	}
	// The operand with more axes supplies the result grid; the other is
	// indexed through its residual axes, with size-1 axes pinned at zero.
	t, o, swapped := a, b, false
	if len(b.Axes) > len(a.Axes) {
		t, o, swapped = b, a, true
	}
	out := t.Copy()
	out.Name, out.Units, out.Description = a.Name, a.Units, a.Description
	m := alignTo(t, o)
	shape := t.Data.GetShape()
	idx := make([]int, len(shape))
	oIdx := make([]int, len(o.Axes))
	for i, v := range t.Data.Elements {
		for j, src := range m {
			if src < 0 {
				oIdx[j] = 0
			} else {
				oIdx[j] = idx[src]
			}
		}
		w := o.Data.Get(oIdx...)
		if swapped {
			v, w = w, v
		}
		out.Data.Elements[i] = fn(v, w)
		increment(idx, shape)
	}
	out.Provenance = derive(fmt.Sprintf("%s(%s)", op, b.Name), a, b)
	return out, nil
}
