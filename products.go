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
	"errors"
	"fmt"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// productNames lists the derived product variables in output order.
var productNames = []string{"eth", "dtedx", "dtedy", "absthe", "vort", "divg"}

// ProductConfig configures the derived-product calculation: equivalent
// potential temperature, its horizontal gradient components and
// magnitude, and, when wind variables are available, relative vorticity
// and horizontal divergence, per ensemble member.
type ProductConfig struct {
	Dataset string

	// WRF selects the raw WRF variable set: perturbation potential
	// temperature plus split pressure (P + PB), with winds destaggered
	// onto mass points. Otherwise the variables are taken to hold
	// temperature [K], pressure [Pa], and mixing ratio [kg/kg]
	// directly.
	WRF bool

	// Variable names; zero values pick defaults for the chosen mode.
	Temperature, Pressure, BasePressure, Humidity string
	UWind, VWind                                  string

	// MemberAxis is the ensemble axis; "member" by default. A dataset
	// without it is processed as a single member.
	MemberAxis string

	Ranges []CoordinateRange

	// OutputFile, when nonempty, receives the stacked products as
	// NetCDF through the same atomic write the anomaly pipeline uses.
	OutputFile string
}

func (c *ProductConfig) applyDefaults() {
	if c.MemberAxis == "" {
		c.MemberAxis = "member"
	}
	if c.WRF {
		if c.Temperature == "" {
			c.Temperature = "T"
		}
		if c.Pressure == "" {
			c.Pressure = "P"
		}
		if c.BasePressure == "" {
			c.BasePressure = "PB"
		}
		if c.Humidity == "" {
			c.Humidity = "QVAPOR"
		}
		if c.UWind == "" {
			c.UWind = "U"
		}
		if c.VWind == "" {
			c.VWind = "V"
		}
		return
	}
	if c.Temperature == "" {
		c.Temperature = "t"
	}
	if c.Pressure == "" {
		c.Pressure = "p"
	}
	if c.Humidity == "" {
		c.Humidity = "q"
	}
	if c.UWind == "" {
		c.UWind = "u"
	}
	if c.VWind == "" {
		c.VWind = "v"
	}
}

type memberInput struct {
	t, p, qv, u, v *Field
}

// ComputeProducts derives the product variables for every ensemble
// member of the configured dataset and stacks them back along the
// member axis. Reads are serialized on the dataset handle; the
// per-member computations run concurrently. Members whose selection is
// empty within the configured ranges are logged and skipped. Wind
// products are omitted when the dataset has no wind variables.
func ComputeProducts(ctx context.Context, cfg ProductConfig, log logrus.FieldLogger) (map[string]*Field, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg.applyDefaults()
	if cfg.Dataset == "" {
		return nil, fmt.Errorf("metcube: products: dataset path is empty")
	}
	d, err := OpenDataset(cfg.Dataset)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	g := d.Geometry()

	members, err := memberCoords(d, &cfg)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"dataset": cfg.Dataset,
		"members": len(members),
	}).Info("computing derived products")

	inputs := make([]*memberInput, max(len(members), 1))
	if len(members) == 0 {
		inputs[0], err = readMember(d, &cfg, cfg.Ranges, log)
		if err != nil {
			return nil, err
		}
	}
	for mi, mv := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ranges := append(append([]CoordinateRange{}, cfg.Ranges...),
			CoordinateRange{Axis: cfg.MemberAxis, Min: mv, Max: mv})
		in, err := readMember(d, &cfg, ranges, log)
		if err != nil {
			var empty *EmptyRangeError
			if errors.As(err, &empty) {
				log.WithFields(logrus.Fields{
					"member": mv,
					"axis":   empty.Axis,
				}).Warn("member has no data within the analysis window; skipping")
				continue
			}
			return nil, err
		}
		inputs[mi] = in
	}

	results := make([]map[string]*Field, len(inputs))
	errChan := make(chan error, len(inputs))
	launched := 0
	for mi := range inputs {
		if inputs[mi] == nil {
			continue
		}
		launched++
		go func(mi int) {
			var err error
			results[mi], err = memberProducts(inputs[mi], g)
			errChan <- err
		}(mi)
	}
	if launched == 0 {
		return nil, fmt.Errorf("metcube: products: no members with data within the analysis window")
	}
	for i := 0; i < launched; i++ {
		if err := <-errChan; err != nil {
			return nil, err
		}
	}

	out := make(map[string]*Field)
	for _, name := range productNames {
		var parts []*Field
		for _, r := range results {
			if r != nil && r[name] != nil {
				parts = append(parts, r[name])
			}
		}
		switch {
		case len(parts) == 0:
			continue
		case len(parts) == 1 && len(members) == 0:
			out[name] = parts[0]
		default:
			stacked, err := Concat(cfg.MemberAxis, parts...)
			if err != nil {
				return nil, err
			}
			out[name] = stacked
		}
	}

	if cfg.OutputFile != "" {
		fields := make([]*Field, 0, len(out))
		for _, name := range productNames {
			if f, ok := out[name]; ok {
				fields = append(fields, f)
			}
		}
		if err := WriteFieldsFile(cfg.OutputFile, d.Projection(), fields...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// memberCoords returns the ensemble coordinates to process, restricted
// by any range on the member axis, or nil when the dataset has no
// member axis.
func memberCoords(d *GridDataset, cfg *ProductConfig) ([]float64, error) {
	axes, err := d.Axes(cfg.Temperature)
	if err != nil {
		return nil, err
	}
	var members []float64
	for _, a := range axes {
		if a.Name == cfg.MemberAxis {
			members = append([]float64{}, a.Values...)
			break
		}
	}
	for _, r := range cfg.Ranges {
		if r.Axis != cfg.MemberAxis {
			continue
		}
		var kept []float64
		for _, mv := range members {
			if mv >= r.Min && mv <= r.Max {
				kept = append(kept, mv)
			}
		}
		members = kept
	}
	return members, nil
}

func readMember(d *GridDataset, cfg *ProductConfig, ranges []CoordinateRange, log logrus.FieldLogger) (*memberInput, error) {
	in := new(memberInput)
	var err error
	if cfg.WRF {
		var thetaPerturb, pp, pb *Field
		if thetaPerturb, err = selectWithin(d, cfg.Temperature, ranges); err != nil {
			return nil, err
		}
		if pp, err = selectWithin(d, cfg.Pressure, ranges); err != nil {
			return nil, err
		}
		if pb, err = selectWithin(d, cfg.BasePressure, ranges); err != nil {
			return nil, err
		}
		if in.p, err = Add(pp, pb); err != nil {
			return nil, err
		}
		in.p.Name, in.p.Units, in.p.Description = "p", "Pa", "pressure"
		in.t = thetaPerturb.Copy()
		in.t.Data = wrfTemperature(thetaPerturb.Data, in.p.Data)
		in.t.Name, in.t.Units, in.t.Description = "t", "K", "temperature"
		in.t.Provenance = derive("wrf_temperature", thetaPerturb, in.p)
	} else {
		if in.t, err = selectWithin(d, cfg.Temperature, ranges); err != nil {
			return nil, err
		}
		if in.p, err = selectWithin(d, cfg.Pressure, ranges); err != nil {
			return nil, err
		}
	}
	if in.qv, err = selectWithin(d, cfg.Humidity, ranges); err != nil {
		return nil, err
	}
	in.u, err = selectOptional(d, cfg.UWind, ranges, log)
	if err != nil {
		return nil, err
	}
	in.v, err = selectOptional(d, cfg.VWind, ranges, log)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// selectOptional selects a variable that may legitimately be absent, in
// which case it returns nil and the dependent products are skipped.
func selectOptional(d *GridDataset, variable string, ranges []CoordinateRange, log logrus.FieldLogger) (*Field, error) {
	f, err := selectWithin(d, variable, ranges)
	if err != nil {
		var notFound *VariableNotFoundError
		if errors.As(err, &notFound) {
			log.WithFields(logrus.Fields{"variable": variable}).
				Info("variable not in dataset; skipping dependent products")
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func memberProducts(in *memberInput, g GridGeometry) (map[string]*Field, error) {
	eth, err := EquivalentPotentialTemperature(in.t, in.p, in.qv)
	if err != nil {
		return nil, err
	}
	dtedx, err := GradientX(eth, g)
	if err != nil {
		return nil, err
	}
	dtedx.Name, dtedx.Description = "dtedx", "zonal gradient of equivalent potential temperature"
	dtedy, err := GradientY(eth, g)
	if err != nil {
		return nil, err
	}
	dtedy.Name, dtedy.Description = "dtedy", "meridional gradient of equivalent potential temperature"
	absthe, err := Magnitude(dtedx, dtedy)
	if err != nil {
		return nil, err
	}
	absthe.Name, absthe.Units, absthe.Description = "absthe", "K/m", "magnitude of the equivalent potential temperature gradient"

	out := map[string]*Field{"eth": eth, "dtedx": dtedx, "dtedy": dtedy, "absthe": absthe}
	if in.u == nil || in.v == nil {
		return out, nil
	}
	u, err := onMassPoints(in.u, eth, 1)
	if err != nil {
		return nil, err
	}
	v, err := onMassPoints(in.v, eth, 2)
	if err != nil {
		return nil, err
	}
	vort, err := Vorticity(u, v, g)
	if err != nil {
		return nil, err
	}
	divg, err := Divergence(u, v, g)
	if err != nil {
		return nil, err
	}
	out["vort"], out["divg"] = vort, divg
	return out, nil
}

// onMassPoints destaggers a wind component onto the mass grid of ref
// when its axis pos places from the end has one point more than ref's,
// and takes over ref's axis so later conformability checks see the same
// coordinates. Unstaggered winds pass through.
func onMassPoints(w, ref *Field, pos int) (*Field, error) {
	wi := len(w.Axes) - pos
	ri := len(ref.Axes) - pos
	if wi < 0 || ri < 0 {
		return nil, &DimensionMismatchError{Op: "destagger", A: ref.describeAxes(), B: w.describeAxes()}
	}
	if len(w.Axes[wi].Values) != len(ref.Axes[ri].Values)+1 {
		return w, nil
	}
	out, err := Destagger(w, w.Axes[wi].Name)
	if err != nil {
		return nil, err
	}
	out.Axes[wi] = Axis{Name: ref.Axes[ri].Name, Values: append([]float64{}, ref.Axes[ri].Values...)}
	return out, nil
}

// Destagger averages adjacent values along the named axis, moving a
// variable from a staggered grid onto the surrounding cell centers. The
// result's axis has one fewer point, located at the midpoints of the
// input coordinates.
func Destagger(f *Field, axis string) (*Field, error) {
	ax, ti, ok := f.Axis(axis)
	if !ok {
		return nil, fmt.Errorf("metcube: destagger: field %s has no axis %s", f.Name, axis)
	}
	n := len(ax.Values)
	if n < 2 {
		return nil, fmt.Errorf("metcube: destagger: axis %s has only %d point", axis, n)
	}
	axes := make([]Axis, len(f.Axes))
	shape := make([]int, len(f.Axes))
	for i, a := range f.Axes {
		if i == ti {
			mid := make([]float64, n-1)
			for j := 0; j < n-1; j++ {
				mid[j] = (a.Values[j] + a.Values[j+1]) / 2
			}
			axes[i] = Axis{Name: a.Name, Values: mid}
			shape[i] = n - 1
		} else {
			axes[i] = Axis{Name: a.Name, Values: append([]float64{}, a.Values...)}
			shape[i] = len(a.Values)
		}
	}
	out := sparse.ZerosDense(shape...)
	idx := make([]int, len(shape))
	src := make([]int, len(shape))
	for i := range out.Elements {
		copy(src, idx)
		a := f.Data.Get(src...)
		src[ti]++
		b := f.Data.Get(src...)
		out.Elements[i] = (a + b) / 2
		increment(idx, shape)
	}
	return &Field{
		Name:        f.Name,
		Units:       f.Units,
		Description: f.Description,
		Axes:        axes,
		Data:        out,
		Provenance:  derive(fmt.Sprintf("destagger(%s)", axis), f),
	}, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
