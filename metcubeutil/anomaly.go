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

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metcube"
)

// Anomaly runs the anomaly pipeline with the given configuration and
// prints a one-line summary of the result to w.
func Anomaly(ctx context.Context, c metcube.AnomalyConfig, w io.Writer) error {
	f, err := metcube.RunAnomaly(ctx, c, logrus.StandardLogger())
	if err != nil {
		return err
	}
	printFieldSummary(w, f)
	return nil
}

func printFieldSummary(w io.Writer, f *metcube.Field) {
	s := metcube.Summarize(f)
	units := f.Units
	if units == "" {
		units = "?"
	}
	fmt.Fprintf(w, "%s [%s]: mean %g, min %g, max %g (%d values)\n",
		f.Name, units, s.Mean, s.Min, s.Max, s.N)
}
