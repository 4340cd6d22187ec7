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
	"reflect"
	"sort"
	"strings"
	"testing"
)

func sortedInputs(c *Calculator) []string {
	vars := append([]string{}, c.InputVariables()...)
	sort.Strings(vars)
	return vars
}

func TestCalculator(t *testing.T) {
	const tolerance = 1.0e-8

	c, err := NewCalculator(map[string]string{
		"wspd": "sqrt(u*u + v*v)",
		"peak": "max(u, v)",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if have := sortedInputs(c); !reflect.DeepEqual(have, []string{"u", "v"}) {
		t.Errorf("input variables: %v", have)
	}

	inputs := map[string]*Field{
		"u": gridField("u", func(lat, lon float64) float64 { return 3 }),
		"v": gridField("v", func(lat, lon float64) float64 { return 4 }),
	}
	out, err := c.Evaluate(inputs)
	if err != nil {
		t.Fatal(err)
	}
	want := gridField("wspd", func(lat, lon float64) float64 { return 5 })
	arrayCompare(out["wspd"].Data, want.Data, tolerance, "wspd", t)
	want = gridField("peak", func(lat, lon float64) float64 { return 4 })
	arrayCompare(out["peak"].Data, want.Data, tolerance, "peak", t)
	if out["wspd"].Name != "wspd" {
		t.Errorf("name: %s", out["wspd"].Name)
	}
	if op := out["wspd"].Provenance[len(out["wspd"].Provenance)-1]; op != "expr(wspd = sqrt(u*u + v*v))" {
		t.Errorf("provenance: %s", op)
	}
}

func TestCalculatorDerived(t *testing.T) {
	const tolerance = 1.0e-8

	c, err := NewCalculator(map[string]string{
		"a": "u + v",
		"b": "a * 2",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Expressions referring to other derived variables reduce to dataset
	// variables only.
	if have := sortedInputs(c); !reflect.DeepEqual(have, []string{"u", "v"}) {
		t.Errorf("input variables: %v", have)
	}

	out, err := c.Evaluate(map[string]*Field{
		"u": gridField("u", func(lat, lon float64) float64 { return lat }),
		"v": gridField("v", func(lat, lon float64) float64 { return lon }),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := gridField("a", func(lat, lon float64) float64 { return lat + lon })
	arrayCompare(out["a"].Data, want.Data, tolerance, "a", t)
	want = gridField("b", func(lat, lon float64) float64 { return (lat + lon) * 2 })
	arrayCompare(out["b"].Data, want.Data, tolerance, "b", t)
}

func TestCalculatorSubstring(t *testing.T) {
	const tolerance = 1.0e-8

	// T2 is derived but the T2 inside DT2 must stay untouched.
	c, err := NewCalculator(map[string]string{
		"T2":      "t + 273.15",
		"warming": "DT2 + T2",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if have := sortedInputs(c); !reflect.DeepEqual(have, []string{"DT2", "t"}) {
		t.Errorf("input variables: %v", have)
	}

	out, err := c.Evaluate(map[string]*Field{
		"t":   gridField("t", func(lat, lon float64) float64 { return 0 }),
		"DT2": gridField("DT2", func(lat, lon float64) float64 { return 1 }),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := gridField("warming", func(lat, lon float64) float64 { return 274.15 })
	arrayCompare(out["warming"].Data, want.Data, tolerance, "warming", t)
}

func TestCalculatorBroadcast(t *testing.T) {
	const tolerance = 1.0e-8

	c, err := NewCalculator(map[string]string{"total": "q * airmass"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Evaluate(map[string]*Field{
		"q":       memberField("q", func(member, lat, lon float64) float64 { return member }),
		"airmass": gridField("airmass", func(lat, lon float64) float64 { return 10*lat + lon }),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := memberField("total", func(member, lat, lon float64) float64 {
		return member * (10*lat + lon)
	})
	arrayCompare(out["total"].Data, want.Data, tolerance, "total", t)
	if n := len(out["total"].Axes); n != 3 {
		t.Errorf("axes: %d != 3", n)
	}
}

func TestCalculatorErrors(t *testing.T) {
	if _, err := NewCalculator(map[string]string{"bad": "u +* v"}, nil); err == nil {
		t.Error("want parse error")
	}

	c, err := NewCalculator(map[string]string{"sum": "u + v"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	u := gridField("u", func(lat, lon float64) float64 { return 1 })
	_, err = c.Evaluate(map[string]*Field{"u": u})
	if err == nil || !strings.Contains(err.Error(), "is missing") {
		t.Errorf("missing input: %v", err)
	}

	shifted, err := NewField("v", u.Data.Copy(),
		Axis{Name: "lat", Values: []float64{40, 41, 42}},
		Axis{Name: "lon", Values: append([]float64{}, testLons...)})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Evaluate(map[string]*Field{"u": u, "v": shifted})
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Errorf("want DimensionMismatchError, got %v", err)
	}
}

func TestCheckShapefileNames(t *testing.T) {
	tests := []struct {
		name string
		want string // "" means valid
	}{
		{"wspd10max", ""},
		{"wspd10maxed", "exceeds 10 characters"},
		{"wspd-max", "unsupported character"},
		{"wspd10-maxed", "exceeds 10 characters and includes unsupported character"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := NewCalculator(map[string]string{test.name: "u"}, nil)
			if err != nil {
				t.Fatal(err)
			}
			err = c.CheckShapefileNames()
			if test.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %v does not contain %q", err, test.want)
			}
		})
	}
}
