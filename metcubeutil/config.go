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

package metcubeutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/metcube"
	"github.com/spf13/cast"
)

// checkOutputVars removes end lines and expands environment
// variables in the output variables.
func checkOutputVars(vars map[string]string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("there are no variables specified for output. Please fill in " +
			"the Export.Variables configuration and try again.")
	}
	for k, v := range vars {
		v = strings.Replace(v, "\r\n", " ", -1)
		v = strings.Replace(v, "\n", " ", -1)
		vars[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return vars, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expand any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`you need to specify an output file configuration variable (for example: OutputFile="output.nc"`)
	}
	f = os.ExpandEnv(f)
	if IsBlob(f) {
		url, err := url.Parse(f)
		if err != nil {
			return f, err
		}
		_, err = OpenBucket(context.TODO(), url.Scheme+"://"+url.Host)
		if err != nil {
			return f, fmt.Errorf("metcube: error when checking OutputFile location: %v", err)
		}
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("metcube: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// parseRanges converts a map of axis names to "min,max" pairs into
// coordinate ranges, sorted by axis name so runs are reproducible.
func parseRanges(m map[string]string) ([]metcube.CoordinateRange, error) {
	var o []metcube.CoordinateRange
	for axis, span := range m {
		parts := strings.Split(span, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("metcube: the range for axis %s needs to be in `min,max` format but is `%s`", axis, span)
		}
		min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("metcube: parsing the range for axis %s: %v", axis, err)
		}
		max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("metcube: parsing the range for axis %s: %v", axis, err)
		}
		o = append(o, metcube.CoordinateRange{Axis: os.ExpandEnv(axis), Min: min, Max: max})
	}
	sort.Slice(o, func(i, j int) bool { return o[i].Axis < o[j].Axis })
	return o, nil
}

// anomalyConfig unmarshals a viper configuration for an anomaly
// pipeline run. The output file is left for the caller to fill in.
func anomalyConfig(cfg *viper.Viper) (metcube.AnomalyConfig, error) {
	outChan := outChan()

	ranges, err := parseRanges(GetStringMapString("Ranges", cfg))
	if err != nil {
		return metcube.AnomalyConfig{}, err
	}
	ctx := context.TODO()
	c := metcube.AnomalyConfig{
		Scenario: metcube.DatasetSpec{
			Path:      maybeDownload(ctx, os.ExpandEnv(cfg.GetString("Anomaly.ScenarioData")), outChan),
			Variable:  os.ExpandEnv(cfg.GetString("Anomaly.ScenarioVariable")),
			Scale:     cfg.GetFloat64("Anomaly.ScenarioScale"),
			FromUnits: cfg.GetString("Anomaly.ScenarioFromUnits"),
			ToUnits:   cfg.GetString("Anomaly.ScenarioToUnits"),
		},
		Climatology: metcube.DatasetSpec{
			Path:      maybeDownload(ctx, os.ExpandEnv(cfg.GetString("Anomaly.ClimatologyData")), outChan),
			Variable:  os.ExpandEnv(cfg.GetString("Anomaly.ClimatologyVariable")),
			Scale:     cfg.GetFloat64("Anomaly.ClimatologyScale"),
			FromUnits: cfg.GetString("Anomaly.ClimatologyFromUnits"),
			ToUnits:   cfg.GetString("Anomaly.ClimatologyToUnits"),
		},
		Ranges:     ranges,
		ReduceAxes: expandStringSlice(cfg.GetStringSlice("Anomaly.ReduceAxes")),
		OutputName: os.ExpandEnv(cfg.GetString("Anomaly.OutputName")),
	}
	if c.Climatology.Variable == "" {
		c.Climatology.Variable = c.Scenario.Variable
	}
	if m := cfg.GetString("Anomaly.MaskData"); m != "" {
		c.Mask = metcube.DatasetSpec{
			Path:     maybeDownload(ctx, os.ExpandEnv(m), outChan),
			Variable: os.ExpandEnv(cfg.GetString("Anomaly.MaskVariable")),
		}
	}
	return c, nil
}

// productsConfig unmarshals a viper configuration for a product
// derivation run.
func productsConfig(cfg *viper.Viper) (metcube.ProductConfig, error) {
	outChan := outChan()

	ranges, err := parseRanges(GetStringMapString("Ranges", cfg))
	if err != nil {
		return metcube.ProductConfig{}, err
	}
	c := metcube.ProductConfig{
		Dataset:      maybeDownload(context.TODO(), os.ExpandEnv(cfg.GetString("Products.Dataset")), outChan),
		WRF:          cfg.GetBool("Products.WRF"),
		Temperature:  os.ExpandEnv(cfg.GetString("Products.Temperature")),
		Pressure:     os.ExpandEnv(cfg.GetString("Products.Pressure")),
		BasePressure: os.ExpandEnv(cfg.GetString("Products.BasePressure")),
		Humidity:     os.ExpandEnv(cfg.GetString("Products.Humidity")),
		UWind:        os.ExpandEnv(cfg.GetString("Products.UWind")),
		VWind:        os.ExpandEnv(cfg.GetString("Products.VWind")),
		MemberAxis:   os.ExpandEnv(cfg.GetString("Products.MemberAxis")),
		Ranges:       ranges,
	}
	if cfg.GetString("Products.Dataset") == "" {
		return c, fmt.Errorf("metcube: a dataset must be specified in the Products.Dataset configuration variable")
	}
	return c, nil
}

// selectRestricted selects a variable from d, applying only the ranges
// whose axes the variable has.
func selectRestricted(d *metcube.GridDataset, variable string, ranges []metcube.CoordinateRange) (*metcube.Field, error) {
	axes, err := d.Axes(variable)
	if err != nil {
		return nil, err
	}
	var rs []metcube.CoordinateRange
	for _, r := range ranges {
		for _, a := range axes {
			if a.Name == r.Axis {
				rs = append(rs, r)
				break
			}
		}
	}
	return d.Select(variable, rs...)
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for getStringMapString variable %s: %#v", varName, i))
	}
}
