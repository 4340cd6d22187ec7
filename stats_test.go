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
	"errors"
	"io/ioutil"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
	"github.com/tealeg/xlsx"
)

func lineField(name string, vals []float64) *Field {
	data := sparse.ZerosDense(len(vals))
	copy(data.Elements, vals)
	coords := make([]float64, len(vals))
	for i := range coords {
		coords[i] = float64(i)
	}
	f, err := NewField(name, data, Axis{Name: "point", Values: coords})
	if err != nil {
		panic(err)
	}
	return f
}

func TestSummarize(t *testing.T) {
	const tolerance = 1.0e-12

	vals := []float64{1, 2, 3, 4, 5, math.NaN(), 6, 7, 8, 9, 10, math.NaN()}
	s := Summarize(lineField("t2", vals))
	if s.N != 10 {
		t.Errorf("N: %d != 10", s.N)
	}
	if s.Mean != 5.5 {
		t.Errorf("mean: %g != 5.5", s.Mean)
	}
	const wantSD = 3.0276503540974917
	if different(s.StdDev, wantSD, tolerance) {
		t.Errorf("stddev: %.17g != %.17g", s.StdDev, wantSD)
	}
	if s.Min != 1 || s.Max != 10 {
		t.Errorf("range: [%g, %g] != [1, 10]", s.Min, s.Max)
	}
	if s.Q1 != 3 || s.Median != 5 || s.Q3 != 8 {
		t.Errorf("quartiles: %g %g %g != 3 5 8", s.Q1, s.Median, s.Q3)
	}
	if math.Abs(s.Skew) > tolerance {
		t.Errorf("skew of a symmetric sample: %g", s.Skew)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := SummarizeValues([]float64{math.NaN(), math.NaN()})
	if s.N != 0 {
		t.Errorf("N: %d != 0", s.N)
	}
	if !math.IsNaN(s.Mean) || !math.IsNaN(s.Min) || !math.IsNaN(s.Median) {
		t.Errorf("statistics of nothing: %+v", s)
	}
}

func TestSpread(t *testing.T) {
	const tolerance = 1.0e-12

	f := memberField("t2", func(member, lat, lon float64) float64 {
		return member + 10*lat + lon
	})
	f.Data.Set(math.NaN(), 0, 0, 0)
	f.Data.Set(math.NaN(), 0, 0, 1)
	f.Data.Set(math.NaN(), 1, 0, 1)

	sd, err := Spread(f, "member")
	if err != nil {
		t.Fatal(err)
	}
	if sd.Name != "t2_sd" {
		t.Errorf("name: %s != t2_sd", sd.Name)
	}
	wantAxis := Axis{Name: "member", Values: []float64{2}}
	if sd.Axes[0].Name != wantAxis.Name || sd.Axes[0].Values[0] != 2 {
		t.Errorf("member axis: %v != %v", sd.Axes[0], wantAxis)
	}

	want := sparse.ZerosDense(1, len(testLats), len(testLons))
	for i := range want.Elements {
		want.Elements[i] = 1 // sample sd of {c+1, c+2, c+3}
	}
	want.Set(math.Sqrt(0.5), 0, 0, 0) // one member missing
	want.Set(math.NaN(), 0, 0, 1)     // two members missing
	arrayCompare(sd.Data, want, tolerance, "spread", t)

	if _, err := Spread(f, "frame"); err == nil || !strings.Contains(err.Error(), "no axis frame") {
		t.Errorf("missing axis: %v", err)
	}
}

func TestCompare(t *testing.T) {
	const tolerance = 1.0e-12

	a := lineField("obs", []float64{1, 2, 3, 4, 5})
	b := lineField("model", []float64{3, 5, 7, 9, 11}) // 2x+1

	fit, err := Compare(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if fit.N != 5 {
		t.Errorf("N: %d != 5", fit.N)
	}
	if different(fit.Slope, 2, tolerance) || different(fit.Intercept, 1, tolerance) {
		t.Errorf("fit: %g x + %g", fit.Slope, fit.Intercept)
	}
	if different(fit.RSquared, 1, tolerance) {
		t.Errorf("r squared: %.17g", fit.RSquared)
	}
	if different(fit.MB, 4, tolerance) || different(fit.ME, 4, tolerance) {
		t.Errorf("bias: MB %g ME %g", fit.MB, fit.ME)
	}
	const wantMFB = 0.8352747252747253
	if different(fit.MFB, wantMFB, tolerance) || different(fit.MFE, wantMFB, tolerance) {
		t.Errorf("fractional bias: MFB %.17g MFE %.17g", fit.MFB, fit.MFE)
	}

	// Pairs with a NaN on either side are skipped.
	a.Data.Elements[2] = math.NaN()
	fit, err = Compare(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if fit.N != 4 {
		t.Errorf("N with NaN pair: %d != 4", fit.N)
	}
	if different(fit.Slope, 2, tolerance) || different(fit.MB, 4, tolerance) {
		t.Errorf("fit with NaN pair: slope %g MB %g", fit.Slope, fit.MB)
	}
}

func TestCompareErrors(t *testing.T) {
	nan := math.NaN()
	a := lineField("obs", []float64{1, nan, nan, nan, nan})
	b := lineField("model", []float64{2, 3, 4, 5, 6})
	if _, err := Compare(a, b); err == nil || !strings.Contains(err.Error(), "finite points") {
		t.Errorf("too few points: %v", err)
	}

	c := lineField("model", []float64{1, 2, 3})
	_, err := Compare(a, c)
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Errorf("want DimensionMismatchError, got %v", err)
	}
}

func TestTTest(t *testing.T) {
	const tolerance = 1.0e-12

	// A sample centered exactly on mu.
	tt, p, err := TTest([]float64{4, 5, 6}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if tt != 0 {
		t.Errorf("t: %g != 0", tt)
	}
	if p != 1 {
		t.Errorf("p: %g != 1", p)
	}

	sample := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tt, p, err = TTest(sample, 0)
	if err != nil {
		t.Fatal(err)
	}
	const wantT = 5.744562646538029
	if different(tt, wantT, tolerance) {
		t.Errorf("t: %.17g != %.17g", tt, wantT)
	}
	if p <= 0 || p >= 0.001 {
		t.Errorf("p: %g not in (0, 0.001)", p)
	}

	if _, _, err := TTest([]float64{1}, 0); err == nil {
		t.Error("one value is not a sample")
	}
	if _, _, err := TTest([]float64{5, 5, 5}, 0); err == nil {
		t.Error("zero variance has no t statistic")
	}
}

func TestReadSamples(t *testing.T) {
	const csvName = "testSamples.csv"
	defer os.Remove(csvName)
	f, err := os.Create(csvName)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.WriteString("obs,model\n1,2\n2,4\n,6\n3,\n")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	samples, err := ReadSamples(csvName)
	if err != nil {
		t.Fatal(err)
	}
	checkSamples := func(samples map[string][]float64) {
		wantObs := []float64{1, 2, 3}
		wantModel := []float64{2, 4, 6}
		if !floats.Equal(samples["obs"], wantObs) {
			t.Errorf("obs: %v != %v", samples["obs"], wantObs)
		}
		if !floats.Equal(samples["model"], wantModel) {
			t.Errorf("model: %v != %v", samples["model"], wantModel)
		}
	}
	checkSamples(samples)

	const xlsxName = "testSamples.xlsx"
	defer os.Remove(xlsxName)
	xf := xlsx.NewFile()
	sheet, err := xf.AddSheet("samples")
	if err != nil {
		t.Fatal(err)
	}
	header := sheet.AddRow()
	header.AddCell().Value = "obs"
	header.AddCell().Value = "model"
	for _, rec := range [][]string{{"1", "2"}, {"2", "4"}, {"", "6"}, {"3", ""}} {
		row := sheet.AddRow()
		for _, cell := range rec {
			row.AddCell().Value = cell
		}
	}
	if err := xf.Save(xlsxName); err != nil {
		t.Fatal(err)
	}
	samples, err = ReadSamples(xlsxName)
	if err != nil {
		t.Fatal(err)
	}
	checkSamples(samples)

	if _, err := ReadSamples("samples.txt"); err == nil {
		t.Error("want error for unknown table format")
	}

	const badName = "testSamplesBad.csv"
	defer os.Remove(badName)
	if err := ioutil.WriteFile(badName, []byte("x\nfoo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSamples(badName); err == nil || !strings.Contains(err.Error(), "column x") {
		t.Errorf("unparseable cell: %v", err)
	}
}
