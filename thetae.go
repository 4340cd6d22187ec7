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
	"math"

	"github.com/ctessum/sparse"
)

// physical constants
const (
	p0    = 100000. // Pa, reference pressure
	kappa = 0.2854  // Rd/cp for dry air
	εv    = 0.622   // molar mass ratio of water vapor to dry air
)

// thetaPerturbToTemperature converts perturbation potential temperature
// [K] at pressure p [Pa] to ambient temperature [K].
func thetaPerturbToTemperature(thetaPerturb, p float64) float64 {
	pressureCorrection := math.Pow(p/p0, kappa)
	// potential temperature, K
	θ := thetaPerturb + 300.
	return θ * pressureCorrection
}

// wrfTemperature converts perturbation potential temperature [K] and
// total pressure [Pa] slabs to ambient temperature [K].
func wrfTemperature(thetaPerturb, p *sparse.DenseArray) *sparse.DenseArray {
	T := sparse.ZerosDense(thetaPerturb.Shape...)
	for i, tp := range thetaPerturb.Elements {
		T.Elements[i] = thetaPerturbToTemperature(tp, p.Elements[i])
	}
	return T
}

// wrfPressure adds perturbation and base-state pressure [Pa].
func wrfPressure(p, pb *sparse.DenseArray) *sparse.DenseArray {
	out := p.Copy()
	out.AddDense(pb)
	return out
}

// thetaE computes equivalent potential temperature [K] from ambient
// temperature t [K], pressure p [Pa], and water vapor mixing ratio
// qv [kg/kg], following Bolton (1980), equations 21 and 43.
func thetaE(t, p, qv float64) float64 {
	e := p * qv / (εv + qv) // vapor pressure, Pa
	if e <= 0 {
		// Dry air: θe reduces to θ.
		return t * math.Pow(p0/p, kappa)
	}
	// Temperature at the lifting condensation level, K.
	tl := 2840/(3.5*math.Log(t)-math.Log(e/100)-4.805) + 55
	return t * math.Pow(p0/p, kappa*(1-0.28*qv)) *
		math.Exp((3.376/tl-0.00254)*1000*qv*(1+0.81*qv))
}

func thetaEDense(t, p, qv *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(t.Shape...)
	for i := range t.Elements {
		out.Elements[i] = thetaE(t.Elements[i], p.Elements[i], qv.Elements[i])
	}
	return out
}

// EquivalentPotentialTemperature computes the equivalent potential
// temperature θe [K] from conformable fields of ambient temperature [K],
// pressure [Pa], and water vapor mixing ratio [kg/kg], following
// Bolton (1980).
func EquivalentPotentialTemperature(t, p, qv *Field) (*Field, error) {
	for _, f := range []*Field{p, qv} {
		if err := conformable("thetae", t, f); err != nil {
			return nil, err
		}
		if len(f.Data.Elements) != len(t.Data.Elements) {
			return nil, &DimensionMismatchError{Op: "thetae", A: t.describeAxes(), B: f.describeAxes()}
		}
	}
	out := t.Copy()
	out.Data = thetaEDense(t.Data, p.Data, qv.Data)
	out.Name = "eth"
	out.Units = "K"
	out.Description = "equivalent potential temperature"
	out.Provenance = derive("thetae", t, p, qv)
	return out, nil
}
