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

import "math"

// maskTolerance is the slack allowed past the ends of [0, 1] before a
// weight is rejected, to absorb float conversion noise in mask files.
const maskTolerance = 1e-6

// A MaskField holds per-cell weights in [0, 1] for damping or zeroing
// parts of a field. Construct one with NewMask.
type MaskField struct {
	Field
}

// NewMask validates f as a mask. Every element must lie in [0, 1]
// within maskTolerance and must not be NaN; the first offending element
// is reported in an *InvalidMaskError.
func NewMask(f *Field) (*MaskField, error) {
	for i, v := range f.Data.Elements {
		if math.IsNaN(v) || v < -maskTolerance || v > 1+maskTolerance {
			return nil, &InvalidMaskError{Index: f.Data.IndexNd(i), Value: v}
		}
	}
	return &MaskField{Field: *f.Copy()}, nil
}

// ApplyMask returns f with every element multiplied by the corresponding
// mask weight. The mask must share the field's axes.
func ApplyMask(f *Field, m *MaskField) (*Field, error) {
	if err := conformable("mask", f, &m.Field); err != nil {
		return nil, err
	}
	out := f.Copy()
	for i, v := range f.Data.Elements {
		out.Data.Elements[i] = v * m.Data.Elements[i]
	}
	out.Provenance = derive("mask("+m.Name+")", f)
	return out, nil
}
