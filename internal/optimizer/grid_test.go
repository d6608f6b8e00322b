package optimizer

import (
	"testing"

	"aquant/internal/errors"
)

func TestGridCombinations(t *testing.T) {
	grid, err := NewGrid(
		ValuesAxis("a", 1, 2),
		ValuesAxis("b", 10, 20, 30),
	)
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}
	if grid.Size() != 6 {
		t.Fatalf("Size = %d, want 6", grid.Size())
	}

	combos := grid.Combinations()
	if len(combos) != 6 {
		t.Fatalf("combination count = %d, want 6", len(combos))
	}
	// 末轴先变
	want := [][2]float64{
		{1, 10}, {1, 20}, {1, 30},
		{2, 10}, {2, 20}, {2, 30},
	}
	for i, w := range want {
		if combos[i]["a"] != w[0] || combos[i]["b"] != w[1] {
			t.Errorf("combo %d = a:%v b:%v, want a:%v b:%v",
				i, combos[i]["a"], combos[i]["b"], w[0], w[1])
		}
	}

	combos[0]["a"] = 99
	if grid.Combinations()[0]["a"] != 1 {
		t.Errorf("combinations share state with the grid")
	}
}

func TestRangeAxis(t *testing.T) {
	axis := RangeAxis("window", 5, 25, 5)
	want := []float64{5, 10, 15, 20, 25}
	if len(axis.Values) != len(want) {
		t.Fatalf("value count = %d, want %d", len(axis.Values), len(want))
	}
	for i, w := range want {
		if !approx(axis.Values[i], w, 1e-12) {
			t.Errorf("value %d = %v, want %v", i, axis.Values[i], w)
		}
	}

	single := RangeAxis("x", 3, 9, 1)
	if len(single.Values) != 1 || single.Values[0] != 3 {
		t.Errorf("single-step axis = %v, want [3]", single.Values)
	}
}

func TestGridFromBounds(t *testing.T) {
	grid, err := GridFromBounds(map[string][2]float64{
		"y": {1, 3},
		"x": {0, 1},
	}, 3)
	if err != nil {
		t.Fatalf("failed to build grid from bounds: %v", err)
	}
	if grid.Size() != 9 {
		t.Errorf("Size = %d, want 9", grid.Size())
	}

	axes := grid.Axes()
	if axes[0].Name != "x" || axes[1].Name != "y" {
		t.Errorf("axis order = %s,%s, want x,y", axes[0].Name, axes[1].Name)
	}
	first := grid.Combinations()[0]
	if first["x"] != 0 || first["y"] != 1 {
		t.Errorf("first combo = %v, want x:0 y:1", first)
	}
}

func TestGridValidation(t *testing.T) {
	cases := []struct {
		name string
		call func() error
	}{
		{"no axes", func() error { _, err := NewGrid(); return err }},
		{"empty axis", func() error { _, err := NewGrid(ValuesAxis("a")); return err }},
		{"unnamed axis", func() error { _, err := NewGrid(ValuesAxis("", 1)); return err }},
		{"duplicate axis", func() error {
			_, err := NewGrid(ValuesAxis("a", 1), ValuesAxis("a", 2))
			return err
		}},
		{"zero steps", func() error {
			_, err := GridFromBounds(map[string][2]float64{"a": {0, 1}}, 0)
			return err
		}},
		{"inverted bounds", func() error {
			_, err := GridFromBounds(map[string][2]float64{"a": {5, 1}}, 3)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.IsConfigurationError(err) {
				t.Errorf("error = %v, want configuration error", err)
			}
		})
	}
}
