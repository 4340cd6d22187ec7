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
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metcube"
)

// Products derives the thermodynamic product fields with the given
// configuration and prints a one-line summary of each to w.
func Products(ctx context.Context, c metcube.ProductConfig, w io.Writer) error {
	fields, err := metcube.ComputeProducts(ctx, c, logrus.StandardLogger())
	if err != nil {
		return err
	}
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		printFieldSummary(w, fields[n])
	}
	return nil
}
