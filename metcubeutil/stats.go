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
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/metcube"
)

// Stats prints descriptive statistics for the configured dataset
// variables or sample table columns to w.
func Stats(cfg *viper.Viper, w io.Writer) error {
	names, values, err := statsInput(cfg)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "variable\tn\tmean\tstd dev\tmin\tq1\tmedian\tq3\tmax")
	for _, n := range names {
		s := metcube.SummarizeValues(values[n])
		fmt.Fprintf(tw, "%s\t%d\t%g\t%g\t%g\t%g\t%g\t%g\t%g\n",
			n, s.N, s.Mean, s.StdDev, s.Min, s.Q1, s.Median, s.Q3, s.Max)
	}
	return tw.Flush()
}

// TTestRun tests whether the mean of each configured variable or sample
// column differs from the configured reference mean, printing the
// results to w.
func TTestRun(cfg *viper.Viper, w io.Writer) error {
	names, values, err := statsInput(cfg)
	if err != nil {
		return err
	}
	mu := cfg.GetFloat64("Stats.Mean")
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "testing against mean %g\n", mu)
	fmt.Fprintln(tw, "variable\tn\tmean\tt\tp")
	for _, n := range names {
		s := metcube.SummarizeValues(values[n])
		t, p, err := metcube.TTest(values[n], mu)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%g\t%g\t%g\n", n, s.N, s.Mean, t, p)
	}
	return tw.Flush()
}

// statsInput collects the samples to summarize, either the columns of a
// sample table or the values of dataset variables, restricted by the
// configured coordinate ranges.
func statsInput(cfg *viper.Viper) ([]string, map[string][]float64, error) {
	outChan := outChan()

	wanted := expandStringSlice(cfg.GetStringSlice("Stats.Variables"))

	if sf := cfg.GetString("Stats.SampleFile"); sf != "" {
		samples, err := metcube.ReadSamples(maybeDownload(context.TODO(), os.ExpandEnv(sf), outChan))
		if err != nil {
			return nil, nil, err
		}
		if len(wanted) == 0 {
			for n := range samples {
				wanted = append(wanted, n)
			}
			sort.Strings(wanted)
		} else {
			for _, n := range wanted {
				if _, ok := samples[n]; !ok {
					return nil, nil, fmt.Errorf("metcube: sample table %s has no column %s", sf, n)
				}
			}
		}
		return wanted, samples, nil
	}

	path := cfg.GetString("Stats.Dataset")
	if path == "" {
		return nil, nil, fmt.Errorf("metcube: either Stats.Dataset or Stats.SampleFile must be specified")
	}
	ranges, err := parseRanges(GetStringMapString("Ranges", cfg))
	if err != nil {
		return nil, nil, err
	}
	d, err := metcube.OpenDataset(maybeDownload(context.TODO(), os.ExpandEnv(path), outChan))
	if err != nil {
		return nil, nil, err
	}
	defer d.Close()
	if len(wanted) == 0 {
		wanted = d.Vars()
	}
	values := make(map[string][]float64)
	for _, v := range wanted {
		f, err := selectRestricted(d, v, ranges)
		if err != nil {
			return nil, nil, err
		}
		values[v] = f.Data.Elements
	}
	return wanted, values, nil
}
