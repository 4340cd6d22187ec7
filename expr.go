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
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
)

// Calculator derives new variables from dataset variables using
// user-supplied arithmetic expressions.
//
// expressions maps the names of the variables to be calculated to
// expressions that define how to calculate them. These expressions can
// utilize variables from the dataset, other derived variables, and
// functions.
//
// inputVariables is automatically generated based on the dataset
// variables that are required to calculate the requested derived
// variables.
//
// Functions are defined in the functions variable.
type Calculator struct {
	expressions    map[string]string
	inputVariables []string
	functions      map[string]govaluate.ExpressionFunction
}

// NewCalculator initializes a new Calculator holder and adds a set of
// default functions. Default functions include:
//
// 'exp(x)', 'log(x)', 'log10(x)', 'sqrt(x)', and 'abs(x)', which apply
// the corresponding math functions pointwise.
//
// 'min(x, y, ...)' and 'max(x, y, ...)', which take the smallest or
// largest of their arguments, and 'sum(x, y, ...)', which adds them.
func NewCalculator(expressions map[string]string, extraFunctions map[string]govaluate.ExpressionFunction) (*Calculator, error) {
	defaultFuncs := map[string]govaluate.ExpressionFunction{
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return (float64)(math.Exp(arg[0].(float64))), nil
		},
		"log": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'log', but needs 1", len(arg))
			}
			return (float64)(math.Log(arg[0].(float64))), nil
		},
		"log10": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'log10', but needs 1", len(arg))
			}
			return (float64)(math.Log10(arg[0].(float64))), nil
		},
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return (float64)(math.Sqrt(arg[0].(float64))), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return (float64)(math.Abs(arg[0].(float64))), nil
		},
		"min": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'min', but needs at least 2", len(args))
			}
			v := args[0].(float64)
			for _, a := range args[1:] {
				v = math.Min(v, a.(float64))
			}
			return v, nil
		},
		"max": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'max', but needs at least 2", len(args))
			}
			v := args[0].(float64)
			for _, a := range args[1:] {
				v = math.Max(v, a.(float64))
			}
			return v, nil
		},
		"sum": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("metcube: got %d arguments for function 'sum', but needs at least 2", len(args))
			}
			v := 0.
			for _, a := range args {
				v += a.(float64)
			}
			return v, nil
		},
	}

	for key, val := range extraFunctions {
		defaultFuncs[key] = val
	}

	exprs := make(map[string]string, len(expressions))
	for key, val := range expressions {
		exprs[key] = val
	}
	c := Calculator{
		expressions: exprs,
		functions:   defaultFuncs,
	}

	err := c.checkForDerivatives()
	return &c, err
}

// InputVariables returns the unique dataset variables that are required
// to calculate the requested derived variables.
func (c *Calculator) InputVariables() []string {
	return c.inputVariables
}

// removeDuplicates removes all duplicated strings from a slice, returning a
// slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]string)
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = val
		}
	}
	return result
}

func checkPrefix(s string) (bool, error) {
	var isPrefix bool
	var err error
	if string(s) != "" {
		isPrefix, err = regexp.MatchString("[a-zA-Z0-9_]", string(s[0]))
		if err != nil {
			return false, err
		}
	} else {
		isPrefix = false
	}
	return isPrefix, nil
}

func checkSuffix(s string) (bool, error) {
	var isSuffix bool
	var err error
	if string(s) != "" {
		isSuffix, err = regexp.MatchString("[a-zA-Z0-9_]", string(s[len(s)-1]))
		if err != nil {
			return false, err
		}
	} else {
		isSuffix = false
	}
	return isSuffix, nil
}

// checkForDerivatives identifies the unique input variables that are required
// to calculate the requested derived variables. Any derived variable showing
// up in a subsequent expression is replaced by its corresponding expression,
// so that after this check each expression refers only to dataset variables.
func (c *Calculator) checkForDerivatives() error {
	c.inputVariables = make([]string, 0, len(c.expressions))
	for key, val := range c.expressions {
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(val, c.functions)
		if err != nil {
			return fmt.Errorf("metcube: expression for %s: %v", key, err)
		}
		uniqueVars := removeDuplicates(expression.Vars())
		c.inputVariables = append(c.inputVariables, uniqueVars...)
		// For each variable name identified in an expression, check if the
		// variable is itself defined in terms of other variables within a
		// separate expression. If so, any instance of the variable name in the
		// current expression is replaced by the expression that defines it.
		var isSuffix bool
		var isPrefix bool
		for _, uniqueVar := range uniqueVars {
			if c.expressions[uniqueVar] != "" && c.expressions[uniqueVar] != uniqueVar {
				// In order to verify that an instance of a variable name is not part of
				// a longer variable name, the text preceding and following the variable
				// name is analyzed. For example, 'T2' is not a standalone variable
				// in an expression if it appears as 'DT2'.
				splitVal := strings.Split(val, uniqueVar)
				for i := 0; i < len(splitVal)-1; i++ {
					isSuffix, err = checkSuffix(splitVal[i])
					if err != nil {
						return fmt.Errorf("metcube: expression for %s: %v", key, err)
					}
					isPrefix, err = checkPrefix(splitVal[i+1])
					if err != nil {
						return fmt.Errorf("metcube: expression for %s: %v", key, err)
					}
					splitVal[i] = splitVal[i] + uniqueVar
					// For every instance of the variable name that is not part of a
					// longer variable name, replace it by the expression that defines it.
					if !isSuffix && !isPrefix {
						splitVal[i] = strings.Replace(splitVal[i], uniqueVar, "("+c.expressions[uniqueVar]+")", -1)
					}
				}
				c.expressions[key] = strings.Join(splitVal, "")
				return c.checkForDerivatives()
			}
		}
	}
	c.inputVariables = removeDuplicates(c.inputVariables)
	return nil
}

// checkShapefileNames checks (1) if any derived variable names exceed 10
// characters and (2) if any include characters that are unsupported in
// shapefile field names.
func checkShapefileNames(o map[string]string) error {
	for key := range o {
		long := len(key) > 10
		okChars, err := regexp.MatchString("^[A-Za-z]\\w*$", key)
		if err != nil {
			panic(err)
		}
		if long && !okChars {
			return fmt.Errorf("metcube: variable name '%s' exceeds 10 characters and includes unsupported character(s)", key)
		} else if long {
			return fmt.Errorf("metcube: variable name '%s' exceeds 10 characters", key)
		} else if !okChars {
			return fmt.Errorf("metcube: variable name '%s' includes unsupported characters", key)
		}
	}
	return nil
}

// CheckShapefileNames ensures the derived variable names are usable as
// shapefile field names.
func (c *Calculator) CheckShapefileNames() error {
	return checkShapefileNames(c.expressions)
}

// Evaluate calculates the derived variables from the given input fields,
// which must include every variable reported by InputVariables and must
// all share the same axes. Expressions are evaluated pointwise.
func (c *Calculator) Evaluate(inputs map[string]*Field) (map[string]*Field, error) {
	var tmpl *Field
	for _, name := range c.inputVariables {
		f, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("metcube: expression input %s is missing", name)
		}
		if tmpl == nil || len(f.Axes) > len(tmpl.Axes) {
			tmpl = f
		}
	}
	if tmpl == nil {
		return nil, fmt.Errorf("metcube: expressions have no input fields to take a grid from")
	}
	aligns := make(map[string][]int, len(c.inputVariables))
	for _, name := range c.inputVariables {
		if err := conformable("expr", tmpl, inputs[name]); err != nil {
			return nil, err
		}
		aligns[name] = alignTo(tmpl, inputs[name])
	}

	shape := tmpl.Data.GetShape()
	out := make(map[string]*Field, len(c.expressions))
	params := make(map[string]interface{}, len(c.inputVariables))
	for name, exprStr := range c.expressions {
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, c.functions)
		if err != nil {
			return nil, fmt.Errorf("metcube: expression for %s: %v", name, err)
		}
		vars := removeDuplicates(expression.Vars())
		result := tmpl.Copy()
		result.Name = name
		result.Units = ""
		result.Description = exprStr
		result.Provenance = append(append([]string{}, tmpl.Provenance...),
			fmt.Sprintf("expr(%s = %s)", name, exprStr))
		idx := make([]int, len(shape))
		oIdx := make([]int, 0, len(shape))
		for i := range result.Data.Elements {
			for _, v := range vars {
				in := inputs[v]
				oIdx = oIdx[:0]
				for _, src := range aligns[v] {
					if src < 0 {
						oIdx = append(oIdx, 0)
					} else {
						oIdx = append(oIdx, idx[src])
					}
				}
				params[v] = in.Data.Get(oIdx...)
			}
			r, err := expression.Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("metcube: evaluating %s: %v", name, err)
			}
			rv, ok := r.(float64)
			if !ok {
				return nil, fmt.Errorf("metcube: expression for %s is not numeric (got %v)", name, r)
			}
			result.Data.Elements[i] = rv
			increment(idx, shape)
		}
		out[name] = result
	}
	return out, nil
}
