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
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Summary holds descriptive statistics for the finite values of a field.
type Summary struct {
	N                int
	Mean, StdDev     float64
	Min, Max         float64
	Q1, Median, Q3   float64
	Skew, ExKurtosis float64
}

// Summarize calculates descriptive statistics for f, ignoring NaN
// values. If f holds no finite values every statistic is NaN and N is
// zero.
func Summarize(f *Field) Summary {
	return SummarizeValues(f.Data.Elements)
}

// SummarizeValues calculates descriptive statistics for a sample,
// ignoring NaN values. The input slice is not modified.
func SummarizeValues(sample []float64) Summary {
	vals := make([]float64, 0, len(sample))
	for _, v := range sample {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, StdDev: nan, Min: nan, Max: nan,
			Q1: nan, Median: nan, Q3: nan, Skew: nan, ExKurtosis: nan}
	}
	sort.Float64s(vals)
	return Summary{
		N:          len(vals),
		Mean:       stat.Mean(vals, nil),
		StdDev:     stat.StdDev(vals, nil),
		Min:        vals[0],
		Max:        vals[len(vals)-1],
		Q1:         stat.Quantile(0.25, stat.Empirical, vals, nil),
		Median:     stat.Quantile(0.5, stat.Empirical, vals, nil),
		Q3:         stat.Quantile(0.75, stat.Empirical, vals, nil),
		Skew:       stat.Skew(vals, nil),
		ExKurtosis: stat.ExKurtosis(vals, nil),
	}
}

// Spread reduces a field along the named axis to the sample standard
// deviation across that axis, keeping the axis with a single point in
// the same way Average does. NaN values are skipped; positions with
// fewer than two finite values become NaN.
func Spread(f *Field, axis string) (*Field, error) {
	ax, ti, ok := f.Axis(axis)
	if !ok {
		return nil, fmt.Errorf("metcube: field %s has no axis %s to spread over", f.Name, axis)
	}
	mean, err := Average(f, []string{axis})
	if err != nil {
		return nil, err
	}
	out := mean.Copy()
	counts := make([]float64, len(out.Data.Elements))
	for i := range out.Data.Elements {
		out.Data.Elements[i] = 0
	}

	shape := f.Data.GetShape()
	idx := make([]int, len(shape))
	oIdx := make([]int, len(shape))
	for _, v := range f.Data.Elements {
		if !math.IsNaN(v) {
			copy(oIdx, idx)
			oIdx[ti] = 0
			j := out.Data.Index1d(oIdx...)
			d := v - mean.Data.Elements[j]
			out.Data.Elements[j] += d * d
			counts[j]++
		}
		increment(idx, shape)
	}
	for j := range out.Data.Elements {
		if counts[j] < 2 {
			out.Data.Elements[j] = math.NaN()
			continue
		}
		out.Data.Elements[j] = math.Sqrt(out.Data.Elements[j] / (counts[j] - 1))
	}
	out.Name = f.Name + "_sd"
	out.Description = fmt.Sprintf("standard deviation of %s across %s", f.Name, ax.Name)
	out.Provenance = append(append([]string{}, f.Provenance...), fmt.Sprintf("spread(%s)", axis))
	return out, nil
}

// Fit holds regression and bias statistics comparing one field against
// another.
type Fit struct {
	Slope, Intercept, RSquared float64

	// MFB and MFE are mean fractional bias and error; MB and ME are
	// mean bias and error. B relative to A.
	MFB, MFE, MB, ME float64

	// N is the number of point pairs where both fields are finite.
	N int
}

// Compare calculates regression and bias statistics of field b against
// reference field a. The fields must share the same grid. Pairs where
// either value is NaN are skipped.
func Compare(a, b *Field) (Fit, error) {
	if err := conformable("compare", a, b); err != nil {
		return Fit{}, err
	}
	var x, y []float64
	for i, av := range a.Data.Elements {
		bv := b.Data.Elements[i]
		if math.IsNaN(av) || math.IsNaN(bv) {
			continue
		}
		x = append(x, av)
		y = append(y, bv)
	}
	if len(x) < 2 {
		return Fit{}, fmt.Errorf("metcube: fields %s and %s share only %d finite points", a.Name, b.Name, len(x))
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return Fit{
		Slope:     beta,
		Intercept: alpha,
		RSquared:  stat.RSquared(x, y, nil, alpha, beta),
		MFB:       mfb(x, y),
		MFE:       mfe(x, y),
		MB:        mb(x, y),
		ME:        me(x, y),
		N:         len(x),
	}, nil
}

func mfb(a, b []float64) float64 {
	r := 0.
	for i, v1 := range a {
		v2 := b[i]
		r += 2 * (v2 - v1) / (v1 + v2)
	}
	return r / float64(len(a))
}
func mfe(a, b []float64) float64 {
	r := 0.
	for i, v1 := range a {
		v2 := b[i]
		r += 2 * math.Abs(v2-v1) / math.Abs(v1+v2)
	}
	return r / float64(len(a))
}
func mb(a, b []float64) float64 {
	r := 0.
	for i, v1 := range a {
		v2 := b[i]
		r += (v2 - v1)
	}
	return r / float64(len(a))
}
func me(a, b []float64) float64 {
	r := 0.
	for i, v1 := range a {
		v2 := b[i]
		r += math.Abs(v2 - v1)
	}
	return r / float64(len(a))
}

// TTest performs a two-sided one-sample t-test of whether the mean of
// sample differs from mu, returning the t statistic and p value.
func TTest(sample []float64, mu float64) (t, p float64, err error) {
	vals := make([]float64, 0, len(sample))
	for _, v := range sample {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	n := len(vals)
	if n < 2 {
		return 0, 0, fmt.Errorf("metcube: t-test needs at least 2 finite values; got %d", n)
	}
	mean := stat.Mean(vals, nil)
	sd := stat.StdDev(vals, nil)
	if sd == 0 {
		return 0, 0, fmt.Errorf("metcube: t-test sample has zero variance")
	}
	t = (mean - mu) / (sd / math.Sqrt(float64(n)))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	p = 2 * dist.CDF(-math.Abs(t))
	return t, p, nil
}

// ReadSamples reads a table of named sample columns from a CSV or XLSX
// file. The first row holds column names; blank cells are skipped.
func ReadSamples(filename string) (map[string][]float64, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return readSamplesCSV(filename)
	case ".xlsx":
		return readSamplesXLSX(filename)
	}
	return nil, fmt.Errorf("metcube: sample table %s is neither .csv nor .xlsx", filename)
}

func readSamplesCSV(filename string) (map[string][]float64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("metcube: reading sample table %s: %v", filename, err)
	}
	out := make(map[string][]float64, len(header))
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("metcube: reading sample table %s: %v", filename, err)
		}
		for i, s := range rec {
			if i >= len(header) || strings.TrimSpace(s) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("metcube: sample table %s column %s: %v", filename, header[i], err)
			}
			out[header[i]] = append(out[header[i]], v)
		}
	}
	return out, nil
}

func readSamplesXLSX(filename string) (map[string][]float64, error) {
	xf, err := xlsx.OpenFile(filename)
	if err != nil {
		return nil, err
	}
	if len(xf.Sheets) == 0 {
		return nil, fmt.Errorf("metcube: sample table %s has no sheets", filename)
	}
	sheet := xf.Sheets[0]
	var header []string
	out := make(map[string][]float64)
	for i, row := range sheet.Rows {
		// The top row contains column headings.
		if i == 0 {
			for _, cell := range row.Cells {
				header = append(header, strings.TrimSpace(cell.Value))
			}
			continue
		}
		if len(row.Cells) == 0 {
			continue
		}
		for j, cell := range row.Cells {
			if j >= len(header) || strings.TrimSpace(cell.Value) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell.Value), 64)
			if err != nil {
				return nil, fmt.Errorf("metcube: sample table %s column %s: %v", filename, header[j], err)
			}
			out[header[j]] = append(out[header[j]], v)
		}
	}
	return out, nil
}
