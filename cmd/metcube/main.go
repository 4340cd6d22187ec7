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

// Command metcube is a command-line interface for analyzing gridded
// meteorological data.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/metcube/metcubeutil"
)

func main() {
	if err := metcubeutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
