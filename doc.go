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

// Package metcube analyzes gridded meteorological datasets. It reads
// NetCDF data cubes, selects coordinate windows from them, combines
// the resulting fields with dimension-checked arithmetic and
// projection-aware spatial derivatives, and composes those operations
// into pipelines such as ensemble anomaly calculation.
package metcube

// Version gives the version of this release.
const Version = "0.1.0"
