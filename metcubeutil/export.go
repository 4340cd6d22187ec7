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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/metcube"
)

// Export evaluates the configured output expressions over a dataset and
// saves the results, as one shapefile per output variable if OutputFile
// ends in .shp and as a NetCDF file otherwise.
func Export(cfg *viper.Viper) error {
	outChan := outChan()

	outputFile, err := checkOutputFile(cfg.GetString("OutputFile"))
	if err != nil {
		return err
	}
	outputVars, err := checkOutputVars(GetStringMapString("Export.Variables", cfg))
	if err != nil {
		return err
	}
	ranges, err := parseRanges(GetStringMapString("Ranges", cfg))
	if err != nil {
		return err
	}
	calc, err := metcube.NewCalculator(outputVars, nil)
	if err != nil {
		return err
	}
	if filepath.Ext(outputFile) == ".shp" {
		if err := calc.CheckShapefileNames(); err != nil {
			return err
		}
	}

	path := cfg.GetString("Export.Dataset")
	if path == "" {
		return fmt.Errorf("metcube: a dataset must be specified in the Export.Dataset configuration variable")
	}
	d, err := metcube.OpenDataset(maybeDownload(context.TODO(), os.ExpandEnv(path), outChan))
	if err != nil {
		return err
	}
	defer d.Close()

	inputs := make(map[string]*metcube.Field)
	for _, v := range calc.InputVariables() {
		f, err := selectRestricted(d, v, ranges)
		if err != nil {
			return err
		}
		inputs[v] = f
	}
	outputs, err := calc.Evaluate(inputs)
	if err != nil {
		return err
	}
	return writeOutputs(outputFile, d.Projection(), outputs)
}

func writeOutputs(outputFile, proj4 string, outputs map[string]*metcube.Field) error {
	names := make([]string, 0, len(outputs))
	for n := range outputs {
		names = append(names, n)
	}
	sort.Strings(names)

	if filepath.Ext(outputFile) != ".shp" {
		fields := make([]*metcube.Field, 0, len(names))
		for _, n := range names {
			fields = append(fields, outputs[n])
		}
		return metcube.WriteFieldsFile(outputFile, proj4, fields...)
	}

	for _, n := range names {
		fname := outputFile
		if len(names) > 1 {
			// One shapefile per variable; the variable name goes
			// before the extension.
			fname = strings.TrimSuffix(outputFile, ".shp") + "_" + n + ".shp"
		}
		if err := metcube.WriteShapefile(fname, outputs[n].Squeeze(), proj4); err != nil {
			return err
		}
	}
	return nil
}
