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
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/ctessum/unit"
)

// unitSymbols maps unit symbols to their SI factor and base dimensions.
// Covers the units that appear in meteorological model output.
var unitSymbols = map[string]struct {
	factor float64
	dims   unit.Dimensions
}{
	"m":  {1, unit.Meter},
	"km": {1000, unit.Meter},
	"cm": {0.01, unit.Meter},
	"mm": {0.001, unit.Meter},

	"kg": {1, unit.Kilogram},
	"g":  {0.001, unit.Kilogram},
	"mg": {1e-6, unit.Kilogram},
	"ug": {1e-9, unit.Kilogram},

	"s":   {1, unit.Second},
	"min": {60, unit.Second},
	"h":   {3600, unit.Second},
	"d":   {86400, unit.Second},

	"K": {1, unit.Kelvin},

	"Pa":  {1, unit.Pascal},
	"hPa": {100, unit.Pascal},
	"mb":  {100, unit.Pascal},
	"bar": {1e5, unit.Pascal},

	"deg": {math.Pi / 180, unit.Dimensions{unit.AngleDim: 1}},
	"rad": {1, unit.Dimensions{unit.AngleDim: 1}},

	"1":       {1, unit.Dimless},
	"percent": {0.01, unit.Dimless},
	"%":       {0.01, unit.Dimless},
}

// ParseUnits converts a unit expression such as "K", "g kg-1", "m/s",
// or "hPa" into a unit whose value is the factor relative to SI base
// units. Terms are separated by spaces or at most one "/", which
// negates the powers of everything after it.
func ParseUnits(expr string) (*unit.Unit, error) {
	u := unit.New(1, unit.Dimless)
	if strings.TrimSpace(expr) == "" {
		return u, nil
	}
	parts := strings.Split(expr, "/")
	if len(parts) > 2 {
		return nil, fmt.Errorf("metcube: unit expression %q has more than one '/'", expr)
	}
	for pi, part := range parts {
		sign := 1
		if pi == 1 {
			sign = -1
		}
		for _, tok := range strings.Fields(part) {
			sym, pow, err := splitUnitToken(tok)
			if err != nil {
				return nil, fmt.Errorf("metcube: unit expression %q: %v", expr, err)
			}
			s, ok := unitSymbols[sym]
			if !ok {
				return nil, fmt.Errorf("metcube: unit expression %q: unknown unit %q", expr, sym)
			}
			p := sign * pow
			dims := make(unit.Dimensions, len(s.dims))
			for d, dp := range s.dims {
				dims[d] = dp * p
			}
			u.Mul(unit.New(math.Pow(s.factor, float64(p)), dims))
		}
	}
	return u, nil
}

// splitUnitToken divides "kg-1" into ("kg", -1) and "m2" into ("m", 2).
func splitUnitToken(tok string) (string, int, error) {
	if tok == "1" { // dimensionless marker in CF-style unit strings
		return "1", 1, nil
	}
	i := len(tok)
	for i > 0 {
		c := rune(tok[i-1])
		if unicode.IsDigit(c) || c == '-' || c == '+' {
			i--
			continue
		}
		break
	}
	sym, expo := tok[:i], tok[i:]
	if sym == "" {
		return "", 0, fmt.Errorf("malformed unit term %q", tok)
	}
	if expo == "" {
		return sym, 1, nil
	}
	p, err := strconv.Atoi(expo)
	if err != nil {
		return "", 0, fmt.Errorf("malformed unit term %q", tok)
	}
	return sym, p, nil
}

// ConversionFactor returns the multiplier that converts values in
// fromUnits to values in toUnits, failing if the two expressions do not
// share the same physical dimensions. For example, the factor from
// "kg kg-1" to "g kg-1" is 1000.
func ConversionFactor(fromUnits, toUnits string) (float64, error) {
	from, err := ParseUnits(fromUnits)
	if err != nil {
		return 0, err
	}
	to, err := ParseUnits(toUnits)
	if err != nil {
		return 0, err
	}
	if !unit.DimensionsMatch(from, to) {
		return 0, fmt.Errorf("metcube: cannot convert %q (%v) to %q (%v)",
			fromUnits, from.Dimensions(), toUnits, to.Dimensions())
	}
	return from.Value() / to.Value(), nil
}
