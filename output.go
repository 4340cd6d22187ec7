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
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
	goshp "github.com/jonas-p/go-shp"
)

// AnalysisData holds a set of derived variables on shared coordinate
// axes, for writing to a NetCDF file that the accessor (or an external
// renderer) can read back.
type AnalysisData struct {
	// Proj4 is the horizontal grid projection, stored as a global
	// attribute of the output file.
	Proj4 string

	// Axes are the coordinate axes shared by all variables, written
	// as float64 coordinate variables.
	Axes []Axis

	Data map[string]struct {
		Dims        []string
		Description string
		Units       string
		Provenance  string
		Data        *sparse.DenseArray
	}
}

// NewAnalysisData prepares an output holder on the given coordinate
// axes.
func NewAnalysisData(proj4 string, axes ...Axis) *AnalysisData {
	return &AnalysisData{Proj4: proj4, Axes: axes}
}

// AddVariable adds a variable to the output data set.
func (d *AnalysisData) AddVariable(name string, dims []string, description, units string, data *sparse.DenseArray) {
	if d.Data == nil {
		d.Data = make(map[string]struct {
			Dims        []string
			Description string
			Units       string
			Provenance  string
			Data        *sparse.DenseArray
		})
	}
	d.Data[name] = struct {
		Dims        []string           // netcdf dimensions for this variable
		Description string             // variable description
		Units       string             // variable units
		Provenance  string             // operation chain that produced the variable
		Data        *sparse.DenseArray // variable data
	}{
		Dims:        dims,
		Description: description,
		Units:       units,
		Data:        data,
	}
}

// AddField adds a field to the output data set under the field's name,
// with its dimensions taken from the field's axis names and its
// provenance recorded.
func (d *AnalysisData) AddField(f *Field) error {
	dims := make([]string, len(f.Axes))
	for i, a := range f.Axes {
		_, j, ok := d.axis(a.Name)
		if !ok {
			return fmt.Errorf("metcube: output has no axis %s needed by variable %s", a.Name, f.Name)
		}
		if len(d.Axes[j].Values) != len(a.Values) {
			return fmt.Errorf("metcube: variable %s axis %s has %d points; output axis has %d",
				f.Name, a.Name, len(a.Values), len(d.Axes[j].Values))
		}
		dims[i] = a.Name
	}
	d.AddVariable(f.Name, dims, f.Description, f.Units, f.Data)
	dd := d.Data[f.Name]
	dd.Provenance = strings.Join(f.Provenance, "; ")
	d.Data[f.Name] = dd
	return nil
}

func (d *AnalysisData) axis(name string) (Axis, int, bool) {
	for i, a := range d.Axes {
		if a.Name == name {
			return a, i, true
		}
	}
	return Axis{}, -1, false
}

// Write writes the data set to w as NetCDF. Coordinate axes become
// float64 coordinate variables; data variables are stored as float32
// with description, units, and provenance attributes.
func (d *AnalysisData) Write(w *os.File) error {
	dimNames := make([]string, len(d.Axes))
	dimLengths := make([]int, len(d.Axes))
	for i, a := range d.Axes {
		dimNames[i] = a.Name
		dimLengths[i] = len(a.Values)
	}
	h := cdf.NewHeader(dimNames, dimLengths)
	h.AddAttribute("", "comment", "MetCube analysis data file")
	if d.Proj4 != "" {
		h.AddAttribute("", "proj4", d.Proj4)
	}

	for _, a := range d.Axes {
		h.AddVariable(a.Name, []string{a.Name}, []float64{0})
	}

	// Sort the names so they write in the same order every time.
	names := make([]string, 0, len(d.Data))
	for n := range d.Data {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		dd := d.Data[name]
		h.AddVariable(name, dd.Dims, []float32{0})
		h.AddAttribute(name, "description", dd.Description)
		h.AddAttribute(name, "units", dd.Units)
		if dd.Provenance != "" {
			h.AddAttribute(name, "provenance", dd.Provenance)
		}
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return err
	}
	for _, a := range d.Axes {
		if err := writeCoord(f, a); err != nil {
			return fmt.Errorf("metcube: writing axis %s to netcdf file: %v", a.Name, err)
		}
	}
	for _, name := range names {
		dd := d.Data[name]
		if err = writeNCF(f, name, dd.Data); err != nil {
			return fmt.Errorf("metcube: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeCoord(f *cdf.File, a Axis) error {
	end := f.Header.Lengths(a.Name)
	start := make([]int, len(end))
	w := f.Writer(a.Name, start, end)
	_, err := w.Write(a.Values)
	return err
}

func writeNCF(f *cdf.File, name string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}

	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data32)
	return err
}

// WriteFieldsFile writes the given fields to fname as NetCDF. The data
// go to a temporary file that is renamed into place only on success, so
// a failed run leaves no partial output behind.
func WriteFieldsFile(fname, proj4 string, fields ...*Field) error {
	var axes []Axis
	for _, f := range fields {
		for _, a := range f.Axes {
			found := false
			for _, have := range axes {
				if have.Name != a.Name {
					continue
				}
				if !floats.Equal(have.Values, a.Values) {
					return fmt.Errorf("metcube: fields disagree on axis %s", a.Name)
				}
				found = true
				break
			}
			if !found {
				axes = append(axes, Axis{Name: a.Name, Values: append([]float64{}, a.Values...)})
			}
		}
	}
	d := NewAnalysisData(proj4, axes...)
	for _, f := range fields {
		if err := d.AddField(f); err != nil {
			return err
		}
	}

	tmp, err := ioutil.TempFile(filepath.Dir(fname), filepath.Base(fname)+".tmp")
	if err != nil {
		return fmt.Errorf("metcube: creating output file: %v", err)
	}
	if err := d.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("metcube: closing output file: %v", err)
	}
	if err := os.Rename(tmp.Name(), fname); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("metcube: moving output into place: %v", err)
	}
	return nil
}

// WriteShapefile writes a two-dimensional (y, x) field as one polygon
// per grid cell with the cell value in a "val" attribute, plus a .prj
// sidecar holding the projection definition, for GIS renderers.
func WriteShapefile(fname string, f *Field, prj string) error {
	if len(f.Axes) != 2 {
		return fmt.Errorf("metcube: shapefile export needs a 2-d field; %s is %s", f.Name, f.describeAxes())
	}
	y, x := f.Axes[0].Values, f.Axes[1].Values
	yEdges, xEdges := cellEdges(y), cellEdges(x)

	fileBase := strings.TrimSuffix(fname, filepath.Ext(fname))
	fields := []goshp.Field{goshp.FloatField("val", 14, 8)}
	shape, err := shp.NewEncoderFromFields(fileBase+".shp", goshp.POLYGON, fields...)
	if err != nil {
		return fmt.Errorf("metcube: creating output shapefile: %v", err)
	}
	for j := range y {
		for i := range x {
			x0, x1 := xEdges[i], xEdges[i+1]
			y0, y1 := yEdges[j], yEdges[j+1]
			cell := geom.Polygon([]geom.Path{{
				{X: x0, Y: y0}, {X: x1, Y: y0},
				{X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}})
			if err := shape.EncodeFields(cell, f.Data.Get(j, i)); err != nil {
				return fmt.Errorf("metcube: writing output shapefile: %v", err)
			}
		}
	}
	shape.Close()

	pf, err := os.Create(fileBase + ".prj")
	if err != nil {
		return fmt.Errorf("metcube: creating output prj file: %v", err)
	}
	fmt.Fprint(pf, prj)
	return pf.Close()
}

// cellEdges returns the n+1 cell boundaries for n cell centers,
// extrapolating half a spacing past each end.
func cellEdges(centers []float64) []float64 {
	n := len(centers)
	e := make([]float64, n+1)
	if n == 1 {
		e[0], e[1] = centers[0]-0.5, centers[0]+0.5
		return e
	}
	for i := 1; i < n; i++ {
		e[i] = (centers[i-1] + centers[i]) / 2
	}
	e[0] = centers[0] - (centers[1]-centers[0])/2
	e[n] = centers[n-1] + (centers[n-1]-centers[n-2])/2
	return e
}
