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

	"github.com/sirupsen/logrus"
)

// DatasetSpec names one input to the anomaly pipeline: a dataset, a
// variable within it, and an optional unit normalization. The
// normalization is either an explicit Scale factor or a FromUnits /
// ToUnits pair from which the factor is derived with a dimensional
// consistency check; giving both is a configuration error.
type DatasetSpec struct {
	Path     string
	Variable string

	Scale              float64
	FromUnits, ToUnits string
}

// scaleFactor resolves the dataset's normalization multiplier, along
// with the units label the scaled values carry.
func (s *DatasetSpec) scaleFactor() (float64, string, error) {
	if s.FromUnits != "" || s.ToUnits != "" {
		k, err := ConversionFactor(s.FromUnits, s.ToUnits)
		if err != nil {
			return 0, "", err
		}
		return k, s.ToUnits, nil
	}
	if s.Scale != 0 {
		return s.Scale, "", nil
	}
	return 1, "", nil
}

func (s *DatasetSpec) check(role string) error {
	if s.Path == "" {
		return fmt.Errorf("metcube: %s dataset path is empty", role)
	}
	if s.Variable == "" {
		return fmt.Errorf("metcube: %s variable name is empty", role)
	}
	if s.Scale != 0 && (s.FromUnits != "" || s.ToUnits != "") {
		return fmt.Errorf("metcube: %s gives both a scale factor and a unit conversion", role)
	}
	return nil
}

// AnomalyConfig configures one anomaly pipeline run. All state is
// explicit here; runs sharing nothing may execute concurrently.
type AnomalyConfig struct {
	// Scenario is the event dataset and Climatology the reference
	// baseline it is differenced against.
	Scenario    DatasetSpec
	Climatology DatasetSpec

	// Ranges restrict each input to coordinate windows. A range whose
	// axis a given variable does not have is skipped for that variable.
	Ranges []CoordinateRange

	// ReduceAxes are averaged away from the scenario composite (and
	// from the climatology where it still has them).
	ReduceAxes []string

	// Mask, when its Path is nonempty, names an indicator field
	// applied to the anomaly. Scale and unit settings are ignored.
	Mask DatasetSpec

	// OutputName is the product variable name; the default appends
	// "_anom" to the scenario variable.
	OutputName string

	// OutputFile, when nonempty, receives the product as NetCDF. The
	// file appears atomically: it is written to a temporary name and
	// renamed only on success.
	OutputFile string
}

func (c *AnomalyConfig) check() error {
	if err := c.Scenario.check("scenario"); err != nil {
		return err
	}
	if err := c.Climatology.check("climatology"); err != nil {
		return err
	}
	if c.Mask.Path != "" && c.Mask.Variable == "" {
		return fmt.Errorf("metcube: mask dataset %s does not name a variable", c.Mask.Path)
	}
	for _, r := range c.Ranges {
		if r.Min > r.Max {
			return fmt.Errorf("metcube: range for axis %s has min %g > max %g", r.Axis, r.Min, r.Max)
		}
	}
	return nil
}

// RunAnomaly runs the anomaly pipeline: load the scenario and
// climatology variables, normalize units, reduce the scenario over the
// configured axes, difference against the climatology, and optionally
// mask. A failure at any stage aborts the run with an error naming the
// stage; no output file is left behind. Dataset handles are closed on
// every exit path.
func RunAnomaly(ctx context.Context, cfg AnomalyConfig, log logrus.FieldLogger) (*Field, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	stageErr := func(stage string, err error) error {
		return fmt.Errorf("metcube: anomaly pipeline %s stage: %w", stage, err)
	}
	if err := cfg.check(); err != nil {
		return nil, stageErr("config", err)
	}

	// Load.
	log.WithFields(logrus.Fields{
		"stage":       "load",
		"scenario":    cfg.Scenario.Path,
		"climatology": cfg.Climatology.Path,
		"variable":    cfg.Scenario.Variable,
	}).Info("anomaly pipeline starting")
	sd, err := OpenDataset(cfg.Scenario.Path)
	if err != nil {
		return nil, stageErr("load", err)
	}
	defer sd.Close()
	cd, err := OpenDataset(cfg.Climatology.Path)
	if err != nil {
		return nil, stageErr("load", err)
	}
	defer cd.Close()

	event, err := selectWithin(sd, cfg.Scenario.Variable, cfg.Ranges)
	if err != nil {
		return nil, stageErr("load", err)
	}
	baseline, err := selectWithin(cd, cfg.Climatology.Variable, cfg.Ranges)
	if err != nil {
		return nil, stageErr("load", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, stageErr("load", err)
	}

	// Normalize.
	event, err = normalize(event, &cfg.Scenario, log)
	if err != nil {
		return nil, stageErr("normalize", err)
	}
	baseline, err = normalize(baseline, &cfg.Climatology, log)
	if err != nil {
		return nil, stageErr("normalize", err)
	}

	// Reduce.
	if len(cfg.ReduceAxes) > 0 {
		log.WithFields(logrus.Fields{
			"stage": "reduce",
			"axes":  cfg.ReduceAxes,
			"shape": event.describeAxes(),
		}).Info("reducing scenario composite")
		event, err = Average(event, cfg.ReduceAxes)
		if err != nil {
			return nil, stageErr("reduce", err)
		}
		if over := reducibleAxes(baseline, cfg.ReduceAxes); len(over) > 0 {
			baseline, err = Average(baseline, over)
			if err != nil {
				return nil, stageErr("reduce", err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, stageErr("reduce", err)
	}

	// Difference.
	anom, err := Subtract(event, baseline)
	if err != nil {
		return nil, stageErr("difference", err)
	}
	anom.Name = cfg.OutputName
	if anom.Name == "" {
		anom.Name = cfg.Scenario.Variable + "_anom"
	}
	anom.Description = fmt.Sprintf("%s anomaly relative to %s", cfg.Scenario.Variable, cfg.Climatology.Path)

	// Mask.
	if cfg.Mask.Path != "" {
		log.WithFields(logrus.Fields{
			"stage":    "mask",
			"dataset":  cfg.Mask.Path,
			"variable": cfg.Mask.Variable,
		}).Info("masking anomaly")
		md, err := OpenDataset(cfg.Mask.Path)
		if err != nil {
			return nil, stageErr("mask", err)
		}
		defer md.Close()
		mv, err := selectWithin(md, cfg.Mask.Variable, cfg.Ranges)
		if err != nil {
			return nil, stageErr("mask", err)
		}
		m, err := NewMask(mv)
		if err != nil {
			return nil, stageErr("mask", err)
		}
		anom, err = ApplyMask(anom, m)
		if err != nil {
			return nil, stageErr("mask", err)
		}
	}

	if cfg.OutputFile != "" {
		log.WithFields(logrus.Fields{
			"stage": "write",
			"file":  cfg.OutputFile,
			"shape": anom.describeAxes(),
		}).Info("writing anomaly product")
		if err := WriteFieldsFile(cfg.OutputFile, sd.Projection(), anom); err != nil {
			return nil, stageErr("write", err)
		}
	}
	log.WithFields(logrus.Fields{"variable": anom.Name, "shape": anom.describeAxes()}).
		Info("anomaly pipeline finished")
	return anom, nil
}

// selectWithin selects a variable restricted to the ranges whose axes
// the variable actually has. Ranges for other axes are no restriction
// here rather than an error, because the same window configures inputs
// of different dimensionality.
func selectWithin(d *GridDataset, variable string, ranges []CoordinateRange) (*Field, error) {
	axes, err := d.Axes(variable)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(axes))
	for _, a := range axes {
		have[a.Name] = true
	}
	var use []CoordinateRange
	for _, r := range ranges {
		if have[r.Axis] {
			use = append(use, r)
		}
	}
	return d.Select(variable, use...)
}

// normalize applies the dataset spec's unit scaling to f.
func normalize(f *Field, spec *DatasetSpec, log logrus.FieldLogger) (*Field, error) {
	k, units, err := spec.scaleFactor()
	if err != nil {
		return nil, err
	}
	if k == 1 && units == "" {
		return f, nil
	}
	log.WithFields(logrus.Fields{
		"stage":    "normalize",
		"variable": f.Name,
		"factor":   k,
	}).Info("normalizing units")
	out := Scale(f, k)
	if units != "" {
		out.Units = units
	}
	return out, nil
}

// reducibleAxes returns the members of over that f still has with more
// than one point.
func reducibleAxes(f *Field, over []string) []string {
	var out []string
	for _, name := range over {
		if a, _, ok := f.Axis(name); ok && len(a.Values) > 1 {
			out = append(out, name)
		}
	}
	return out
}
