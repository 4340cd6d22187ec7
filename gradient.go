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
	"time"
)

const (
	// earthRadius is the radius of the spherical earth (m) used for
	// converting degrees to distances on longlat grids.
	earthRadius = 6370997.

	degToMeters = earthRadius * math.Pi / 180
)

// A GridGeometry describes how horizontal coordinate differences convert
// to physical distances. On geographic grids the coordinates are degrees
// and distances depend on latitude; on projected grids the coordinates
// are meters already.
type GridGeometry struct {
	Geographic bool
}

// Geometry returns the horizontal geometry of the dataset grid, for use
// with the gradient operations.
func (d *GridDataset) Geometry() GridGeometry {
	return GridGeometry{Geographic: d.Geographic()}
}

// GradientX returns the derivative of f along its trailing (x) axis,
// using centered differences in the interior and one-sided differences
// at the edges, divided by the physical grid spacing. The trailing two
// axes of f must be y (latitude) and x (longitude), in that order.
func GradientX(f *Field, g GridGeometry) (*Field, error) {
	return gradient(f, g, "ddx", false)
}

// GradientY returns the derivative of f along its second-to-last (y)
// axis, with the same difference scheme as GradientX.
func GradientY(f *Field, g GridGeometry) (*Field, error) {
	return gradient(f, g, "ddy", true)
}

func gradient(f *Field, g GridGeometry, op string, alongY bool) (*Field, error) {
	if len(f.Axes) < 2 {
		return nil, fmt.Errorf("metcube: %s: field %s has %d axes; horizontal derivatives need y and x",
			op, f.Name, len(f.Axes))
	}
	xi := len(f.Axes) - 1
	yi := xi - 1
	di := xi // axis differentiated along
	if alongY {
		di = yi
	}
	coord := f.Axes[di].Values
	if len(coord) < 2 {
		return nil, fmt.Errorf("metcube: %s: axis %s has only %d points", op, f.Axes[di].Name, len(coord))
	}
	lat := f.Axes[yi].Values

	out := f.Copy()
	shape := f.Data.GetShape()
	idx := make([]int, len(shape))
	nbr := make([]int, len(shape))
	for p := range f.Data.Elements {
		i := idx[di]
		var a, b int
		switch {
		case i == 0:
			a, b = 0, 1
		case i == len(coord)-1:
			a, b = len(coord)-2, len(coord)-1
		default:
			a, b = i-1, i+1
		}
		dist := coord[b] - coord[a]
		if g.Geographic {
			dist *= degToMeters
			if !alongY {
				dist *= math.Cos(lat[idx[yi]] * math.Pi / 180)
			}
		}
		copy(nbr, idx)
		nbr[di] = a
		va := f.Data.Get(nbr...)
		nbr[di] = b
		vb := f.Data.Get(nbr...)
		out.Data.Elements[p] = (vb - va) / dist
		increment(idx, shape)
	}
	out.Units = perMeter(f.Units)
	out.Provenance = derive(op, f)
	return out, nil
}

// Magnitude returns the element-wise vector magnitude sqrt(fx²+fy²).
// The operands must share compatible axes.
func Magnitude(fx, fy *Field) (*Field, error) {
	out, err := combine("magnitude", fx, fy, func(x, y float64) float64 {
		return math.Sqrt(x*x + y*y)
	})
	if err != nil {
		return nil, err
	}
	out.Provenance = derive("magnitude", fx, fy)
	return out, nil
}

// Vorticity returns the vertical component of the relative vorticity
// ∂v/∂x − ∂u/∂y of the horizontal wind (u, v), in 1/s.
func Vorticity(u, v *Field, g GridGeometry) (*Field, error) {
	if err := conformable("vorticity", u, v); err != nil {
		return nil, err
	}
	dvdx, err := GradientX(v, g)
	if err != nil {
		return nil, err
	}
	dudy, err := GradientY(u, g)
	if err != nil {
		return nil, err
	}
	out, err := Subtract(dvdx, dudy)
	if err != nil {
		return nil, err
	}
	out.Name = "vort"
	out.Units = "1/s"
	out.Description = "relative vorticity"
	out.Provenance = derive(fmt.Sprintf("vorticity(%s,%s)", u.Name, v.Name), u, v)
	return out, nil
}

// Divergence returns the horizontal divergence ∂u/∂x + ∂v/∂y of the
// wind (u, v), in 1/s.
func Divergence(u, v *Field, g GridGeometry) (*Field, error) {
	if err := conformable("divergence", u, v); err != nil {
		return nil, err
	}
	dudx, err := GradientX(u, g)
	if err != nil {
		return nil, err
	}
	dvdy, err := GradientY(v, g)
	if err != nil {
		return nil, err
	}
	out, err := Add(dudx, dvdy)
	if err != nil {
		return nil, err
	}
	out.Name = "divg"
	out.Units = "1/s"
	out.Description = "horizontal divergence"
	out.Provenance = derive(fmt.Sprintf("divergence(%s,%s)", u.Name, v.Name), u, v)
	return out, nil
}

// TimeTendency returns the rate of change of f along the named time
// axis, per second, using centered differences over 2*step in the
// interior and one-sided differences over step at the first and last
// records. step is the interval between consecutive records.
func TimeTendency(f *Field, axis string, step time.Duration) (*Field, error) {
	ax, ti, ok := f.Axis(axis)
	if !ok {
		return nil, fmt.Errorf("metcube: tendency: field %s has no axis %s", f.Name, axis)
	}
	n := len(ax.Values)
	if n < 2 {
		return nil, fmt.Errorf("metcube: tendency: axis %s has only %d points", axis, n)
	}
	s := step.Seconds()
	out := f.Copy()
	shape := f.Data.GetShape()
	idx := make([]int, len(shape))
	nbr := make([]int, len(shape))
	for p := range f.Data.Elements {
		i := idx[ti]
		var a, b int
		dt := 2 * s
		switch {
		case i == 0:
			a, b = 0, 1
			dt = s
		case i == n-1:
			a, b = n-2, n-1
			dt = s
		default:
			a, b = i-1, i+1
		}
		copy(nbr, idx)
		nbr[ti] = a
		va := f.Data.Get(nbr...)
		nbr[ti] = b
		vb := f.Data.Get(nbr...)
		out.Data.Elements[p] = (vb - va) / dt
		increment(idx, shape)
	}
	out.Units = perSecond(f.Units)
	out.Provenance = derive(fmt.Sprintf("tendency(%s,%v)", axis, step), f)
	return out, nil
}

func perMeter(units string) string {
	if units == "" {
		return "1/m"
	}
	return units + "/m"
}

func perSecond(units string) string {
	if units == "" {
		return "1/s"
	}
	return units + "/s"
}
