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
	"io/ioutil"
	"math"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/ctessum/sparse"
)

const (
	TestWRFFilename   = "testWRF.nc"
	TestWRFDescriptor = "testWRF.toml"
	TestPlainFilename = "testPlain.nc"
)

// WriteTestWRF writes a two-member raw WRF fixture: perturbation
// potential temperature of 2 K and 4 K, split pressure summing to
// 90000 Pa, uniform vapor, staggered winds that vary linearly along
// their own axis, and two-dimensional XLAT/XLONG coordinates mapped
// through a descriptor.
func WriteTestWRF() error {
	const nm, nj, ni = 2, 3, 4

	xlat := make([]float64, nj*ni)
	xlong := make([]float64, nj*ni)
	for j := 0; j < nj; j++ {
		for i := 0; i < ni; i++ {
			xlat[j*ni+i] = testLats[j]
			xlong[j*ni+i] = testLons[i]
		}
	}
	tt := make([]float64, nm*nj*ni)
	pp := make([]float64, nm*nj*ni)
	pb := make([]float64, nm*nj*ni)
	qv := make([]float64, nm*nj*ni)
	for m := 0; m < nm; m++ {
		for c := 0; c < nj*ni; c++ {
			tt[m*nj*ni+c] = 2 * float64(m+1)
			pp[m*nj*ni+c] = 500
			pb[m*nj*ni+c] = 89500
			qv[m*nj*ni+c] = 0.004
		}
	}
	u := make([]float64, nm*nj*(ni+1))
	for m := 0; m < nm; m++ {
		for j := 0; j < nj; j++ {
			for i := 0; i < ni+1; i++ {
				u[(m*nj+j)*(ni+1)+i] = 3 * float64(i)
			}
		}
	}
	v := make([]float64, nm*(nj+1)*ni)
	for m := 0; m < nm; m++ {
		for j := 0; j < nj+1; j++ {
			for i := 0; i < ni; i++ {
				v[(m*(nj+1)+j)*ni+i] = 2 * float64(j)
			}
		}
	}

	err := writeTestFile(TestWRFFilename,
		[]string{"member", "south_north", "west_east", "west_east_stag", "south_north_stag"},
		[]int{nm, nj, ni, ni + 1, nj + 1},
		[]testVar{
			{name: "member", dims: []string{"member"}, data: []float64{1, 2}},
			{name: "XLAT", dims: []string{"south_north", "west_east"},
				attrs: map[string]interface{}{"units": "degrees_north"},
				data:  xlat},
			{name: "XLONG", dims: []string{"south_north", "west_east"},
				attrs: map[string]interface{}{"units": "degrees_east"},
				data:  xlong},
			{name: "T", dims: []string{"member", "south_north", "west_east"},
				attrs: map[string]interface{}{"units": "K", "description": "perturbation potential temperature"},
				data:  tt},
			{name: "P", dims: []string{"member", "south_north", "west_east"},
				attrs: map[string]interface{}{"units": "Pa"},
				data:  pp},
			{name: "PB", dims: []string{"member", "south_north", "west_east"},
				attrs: map[string]interface{}{"units": "Pa"},
				data:  pb},
			{name: "QVAPOR", dims: []string{"member", "south_north", "west_east"},
				attrs: map[string]interface{}{"units": "kg kg-1"},
				data:  qv},
			{name: "U", dims: []string{"member", "south_north", "west_east_stag"},
				attrs: map[string]interface{}{"units": "m s-1"},
				data:  u},
			{name: "V", dims: []string{"member", "south_north_stag", "west_east"},
				attrs: map[string]interface{}{"units": "m s-1"},
				data:  v},
		})
	if err != nil {
		return err
	}
	descriptor := fmt.Sprintf("file = %q\nprojection = \"+proj=longlat\"\n\n[axes]\nsouth_north = \"XLAT\"\nwest_east = \"XLONG\"\n",
		TestWRFFilename)
	return ioutil.WriteFile(TestWRFDescriptor, []byte(descriptor), 0644)
}

func removeTestWRF() {
	os.Remove(TestWRFFilename)
	os.Remove(TestWRFDescriptor)
}

// Per-member equivalent potential temperatures of the WRF fixture.
var wrfFixtureTheta = []float64{314.42085282020787, 316.52514040671997}

func maxAbs(a *sparse.DenseArray) float64 {
	m := 0.
	for _, v := range a.Elements {
		if math.Abs(v) > m {
			m = math.Abs(v)
		}
	}
	return m
}

func TestComputeProductsWRF(t *testing.T) {
	const tolerance = 1.0e-12
	if err := WriteTestWRF(); err != nil {
		t.Fatal(err)
	}
	defer removeTestWRF()
	const output = "testProducts.nc"
	defer os.Remove(output)

	cfg := ProductConfig{Dataset: TestWRFDescriptor, WRF: true, OutputFile: output}
	out, err := ComputeProducts(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range productNames {
		if out[name] == nil {
			t.Fatalf("product %s is missing", name)
		}
	}

	eth := out["eth"]
	if eth.Name != "eth" || eth.Units != "K" {
		t.Errorf("eth metadata: %s [%s]", eth.Name, eth.Units)
	}
	wantAxes := []Axis{
		{Name: "member", Values: []float64{1, 2}},
		{Name: "south_north", Values: append([]float64{}, testLats...)},
		{Name: "west_east", Values: append([]float64{}, testLons...)},
	}
	if !reflect.DeepEqual(eth.Axes, wantAxes) {
		t.Errorf("eth axes: %v != %v", eth.Axes, wantAxes)
	}
	ncell := len(testLats) * len(testLons)
	ethWant := sparse.ZerosDense(2, len(testLats), len(testLons))
	for m, want := range wrfFixtureTheta {
		for c := 0; c < ncell; c++ {
			ethWant.Elements[m*ncell+c] = want
		}
	}
	arrayCompare(eth.Data, ethWant, tolerance, "eth", t)

	// θe is uniform within each member, so its gradients vanish, and
	// linear winds have no curl.
	for _, name := range []string{"dtedx", "dtedy", "absthe", "vort"} {
		f := out[name]
		if !reflect.DeepEqual(f.Data.Shape, eth.Data.Shape) {
			t.Errorf("%s shape: %v", name, f.Data.Shape)
		}
		if m := maxAbs(f.Data); m > 1e-12 {
			t.Errorf("%s should vanish; max magnitude %g", name, m)
		}
	}

	// du/dx is 3 per degree of longitude and dv/dy 2 per degree of
	// latitude.
	divgWant := sparse.ZerosDense(2, len(testLats), len(testLons))
	idx := 0
	for m := 0; m < 2; m++ {
		for _, lat := range testLats {
			w := 3/(degToMeters*math.Cos(lat*math.Pi/180)) + 2/degToMeters
			for range testLons {
				divgWant.Elements[idx] = w
				idx++
			}
		}
	}
	arrayCompare(out["divg"].Data, divgWant, tolerance, "divg", t)

	// The product file holds the stacked variables.
	d, err := OpenDataset(output)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d.Projection() != "+proj=longlat" {
		t.Errorf("projection: %s", d.Projection())
	}
	wantVars := []string{"absthe", "divg", "dtedx", "dtedy", "eth", "member", "south_north", "vort", "west_east"}
	if vars := d.Vars(); !reflect.DeepEqual(vars, wantVars) {
		t.Errorf("variables: %v != %v", vars, wantVars)
	}
	saved, err := d.Select("eth")
	if err != nil {
		t.Fatal(err)
	}
	arrayCompare(saved.Data, ethWant, 1.0e-6, "saved eth", t)
}

func TestComputeProductsMemberWindow(t *testing.T) {
	const tolerance = 1.0e-12
	if err := WriteTestWRF(); err != nil {
		t.Fatal(err)
	}
	defer removeTestWRF()

	cfg := ProductConfig{
		Dataset: TestWRFDescriptor,
		WRF:     true,
		Ranges:  []CoordinateRange{{Axis: "member", Min: 2, Max: 2}},
	}
	out, err := ComputeProducts(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	eth := out["eth"]
	if !reflect.DeepEqual(eth.Axes[0], Axis{Name: "member", Values: []float64{2}}) {
		t.Errorf("member axis: %v", eth.Axes[0])
	}
	want := sparse.ZerosDense(1, len(testLats), len(testLons))
	for i := range want.Elements {
		want.Elements[i] = wrfFixtureTheta[1]
	}
	arrayCompare(eth.Data, want, tolerance, "eth member 2", t)
}

func TestComputeProductsDefaults(t *testing.T) {
	const tolerance = 1.0e-12
	defer os.Remove(TestPlainFilename)

	// All values are chosen to survive float32 storage exactly.
	temp := gridField("t", func(lat, lon float64) float64 { return 260 + lat })
	temp.Units = "K"
	p := gridField("p", func(lat, lon float64) float64 { return 100000 - 1000*(lon-10) })
	p.Units = "Pa"
	q := gridField("q", func(lat, lon float64) float64 { return 0.00390625 })
	q.Units = "kg kg-1"
	if err := WriteFieldsFile(TestPlainFilename, "+proj=longlat", temp, p, q); err != nil {
		t.Fatal(err)
	}

	out, err := ComputeProducts(context.Background(), ProductConfig{Dataset: TestPlainFilename}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"eth", "dtedx", "dtedy", "absthe"} {
		if out[name] == nil {
			t.Fatalf("product %s is missing", name)
		}
	}
	// No winds in the dataset, so no wind products.
	if out["vort"] != nil || out["divg"] != nil {
		t.Error("wind products from a dataset without winds")
	}

	eth := out["eth"]
	// Without an ensemble axis the products stay unstacked.
	if len(eth.Axes) != 2 || eth.Axes[0].Name != "lat" || eth.Axes[1].Name != "lon" {
		t.Errorf("eth axes: %v", eth.Axes)
	}
	want := gridField("want", func(lat, lon float64) float64 {
		return thetaE(260+lat, 100000-1000*(lon-10), 0.00390625)
	})
	arrayCompare(eth.Data, want.Data, tolerance, "eth", t)
}

func TestComputeProductsErrors(t *testing.T) {
	if _, err := ComputeProducts(context.Background(), ProductConfig{}, nil); err == nil {
		t.Error("want error for empty dataset path")
	}

	if err := WriteTestWRF(); err != nil {
		t.Fatal(err)
	}
	defer removeTestWRF()

	// A window between grid rows leaves no member with data.
	cfg := ProductConfig{
		Dataset: TestWRFDescriptor,
		WRF:     true,
		Ranges:  []CoordinateRange{{Axis: "south_north", Min: 30.2, Max: 30.8}},
	}
	_, err := ComputeProducts(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "no members with data") {
		t.Errorf("empty window: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ComputeProducts(ctx, ProductConfig{Dataset: TestWRFDescriptor, WRF: true}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestDestagger(t *testing.T) {
	const tolerance = 1.0e-12

	data := sparse.ZerosDense(4)
	copy(data.Elements, []float64{1, 3, 5, 7})
	f, err := NewField("u", data, Axis{Name: "x_stag", Values: []float64{0, 1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Destagger(f, "x_stag")
	if err != nil {
		t.Fatal(err)
	}
	wantAxis := Axis{Name: "x_stag", Values: []float64{0.5, 1.5, 2.5}}
	if !reflect.DeepEqual(out.Axes[0], wantAxis) {
		t.Errorf("axis: %v != %v", out.Axes[0], wantAxis)
	}
	want := sparse.ZerosDense(3)
	copy(want.Elements, []float64{2, 4, 6})
	arrayCompare(out.Data, want, tolerance, "destaggered", t)
	if op := out.Provenance[len(out.Provenance)-1]; op != "destagger(x_stag)" {
		t.Errorf("provenance: %s", op)
	}

	if _, err := Destagger(f, "y_stag"); err == nil {
		t.Error("a missing axis cannot be destaggered")
	}
	point, err := NewField("u", sparse.ZerosDense(1), Axis{Name: "x_stag", Values: []float64{0}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Destagger(point, "x_stag"); err == nil {
		t.Error("a single point cannot be destaggered")
	}
}

func TestOnMassPoints(t *testing.T) {
	ref := gridField("eth", func(lat, lon float64) float64 { return 300 })
	w := gridField("u", func(lat, lon float64) float64 { return 5 })

	// Already on mass points: passed through untouched.
	out, err := onMassPoints(w, ref, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out != w {
		t.Error("unstaggered wind should pass through")
	}

	line := lineField("u", []float64{1, 2, 3})
	_, err = onMassPoints(line, ref, 2)
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Errorf("want DimensionMismatchError, got %v", err)
	}
}
