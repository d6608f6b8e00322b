package optimizer

import (
	"fmt"
	"sort"

	"aquant/internal/errors"
	"aquant/internal/strategy"
)

// Axis is one swept parameter and the values it takes.
type Axis struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// RangeAxis builds an axis of evenly spaced values over [min, max].
func RangeAxis(name string, min, max float64, steps int) Axis {
	if steps < 1 {
		return Axis{Name: name}
	}
	if steps == 1 {
		return Axis{Name: name, Values: []float64{min}}
	}
	values := make([]float64, steps)
	step := (max - min) / float64(steps-1)
	for i := 0; i < steps; i++ {
		values[i] = min + float64(i)*step
	}
	return Axis{Name: name, Values: values}
}

// ValuesAxis builds an axis from explicit values.
func ValuesAxis(name string, values ...float64) Axis {
	return Axis{Name: name, Values: values}
}

// Grid is the cartesian product of parameter axes.
type Grid struct {
	axes []Axis
}

// NewGrid validates the axes and builds a grid. Axis order is preserved so
// combination order is reproducible across runs.
func NewGrid(axes ...Axis) (*Grid, error) {
	if len(axes) == 0 {
		return nil, errors.NewConfigurationError("grid", "at least one axis is required")
	}
	seen := make(map[string]struct{}, len(axes))
	for _, a := range axes {
		if a.Name == "" {
			return nil, errors.NewConfigurationError("grid", "axis name is empty")
		}
		if len(a.Values) == 0 {
			return nil, errors.NewConfigurationError("grid", fmt.Sprintf("axis %s has no values", a.Name))
		}
		if _, dup := seen[a.Name]; dup {
			return nil, errors.NewConfigurationError("grid", fmt.Sprintf("duplicate axis %s", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	return &Grid{axes: axes}, nil
}

// GridFromBounds builds a grid from parameter bounds, each axis getting the
// same number of evenly spaced steps.
func GridFromBounds(bounds map[string][2]float64, steps int) (*Grid, error) {
	if steps < 1 {
		return nil, errors.NewConfigurationError("grid", "steps must be positive")
	}
	names := make([]string, 0, len(bounds))
	for name := range bounds {
		names = append(names, name)
	}
	sort.Strings(names)

	axes := make([]Axis, 0, len(names))
	for _, name := range names {
		b := bounds[name]
		if b[1] < b[0] {
			return nil, errors.NewConfigurationError("grid", fmt.Sprintf("axis %s has inverted bounds", name))
		}
		axes = append(axes, RangeAxis(name, b[0], b[1], steps))
	}
	return NewGrid(axes...)
}

// Size returns the number of combinations the grid expands to.
func (g *Grid) Size() int {
	size := 1
	for _, a := range g.axes {
		size *= len(a.Values)
	}
	return size
}

// Axes returns the grid's axes in declaration order.
func (g *Grid) Axes() []Axis {
	out := make([]Axis, len(g.axes))
	copy(out, g.axes)
	return out
}

// Combinations expands the full cartesian product in odometer order: the
// last axis varies fastest. Each map is independently mutable.
func (g *Grid) Combinations() []strategy.Params {
	combos := make([]strategy.Params, 0, g.Size())
	idx := make([]int, len(g.axes))
	for {
		params := make(strategy.Params, len(g.axes))
		for i, a := range g.axes {
			params[a.Name] = a.Values[idx[i]]
		}
		combos = append(combos, params)

		// 进位扫描
		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(g.axes[pos].Values) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return combos
		}
	}
}
