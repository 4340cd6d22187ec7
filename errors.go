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
)

// A DatasetOpenError is returned when a dataset or its descriptor cannot
// be opened or parsed.
type DatasetOpenError struct {
	Path string
	Err  error
}

func (e *DatasetOpenError) Error() string {
	return fmt.Sprintf("metcube: opening dataset %s: %v", e.Path, e.Err)
}

func (e *DatasetOpenError) Unwrap() error { return e.Err }

// A VariableNotFoundError is returned when a requested variable does not
// exist in the dataset it was requested from.
type VariableNotFoundError struct {
	Variable string
	Path     string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf("metcube: variable %s not in dataset %s", e.Variable, e.Path)
}

// A RangeOutOfBoundsError is returned when a coordinate range lies wholly
// outside the coverage of the axis it restricts, or names an axis the
// variable does not have. Lo and Hi hold the axis coverage and are NaN
// when the axis is unknown.
type RangeOutOfBoundsError struct {
	Variable string
	Axis     string
	Min, Max float64
	Lo, Hi   float64
}

func (e *RangeOutOfBoundsError) Error() string {
	if math.IsNaN(e.Lo) {
		return fmt.Sprintf("metcube: variable %s has no axis %s (requested range [%g, %g])",
			e.Variable, e.Axis, e.Min, e.Max)
	}
	return fmt.Sprintf("metcube: variable %s: range [%g, %g] outside %s coverage [%g, %g]",
		e.Variable, e.Min, e.Max, e.Axis, e.Lo, e.Hi)
}

// An EmptyRangeError is returned when a coordinate restriction selects
// zero points, in a dataset selection or in a reduction.
type EmptyRangeError struct {
	Axis     string
	Min, Max float64
	Lo, Hi   float64
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("metcube: empty selection: range [%g, %g] selects no points on axis %s (coverage [%g, %g])",
		e.Min, e.Max, e.Axis, e.Lo, e.Hi)
}

// A DimensionMismatchError is returned when the operands of an element-wise
// operation do not share compatible coordinate axes.
type DimensionMismatchError struct {
	Op   string
	A, B string
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("metcube: %s: incompatible axes %s and %s", e.Op, e.A, e.B)
}

// An InvalidMaskError is returned when a prospective mask field holds a
// value outside the interval [0, 1].
type InvalidMaskError struct {
	Index []int
	Value float64
}

func (e *InvalidMaskError) Error() string {
	return fmt.Sprintf("metcube: mask value %g at index %v outside [0, 1]", e.Value, e.Index)
}
