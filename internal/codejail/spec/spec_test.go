package spec_test

import (
	"testing"

	"capajail/internal/codejail/spec"
)

func TestDeepCopyIsolatesNestedValues(t *testing.T) {
	orig := map[string]any{
		"list": []any{int64(1), map[string]any{"x": "y"}},
		"map":  map[string]any{"inner": []any{"a"}},
		"n":    int64(3),
	}
	cp := spec.DeepCopy(orig)

	cp["list"].([]any)[1].(map[string]any)["x"] = "changed"
	cp["map"].(map[string]any)["inner"].([]any)[0] = "b"
	cp["n"] = int64(4)

	if orig["list"].([]any)[1].(map[string]any)["x"] != "y" {
		t.Fatalf("nested map shared with copy")
	}
	if orig["map"].(map[string]any)["inner"].([]any)[0] != "a" {
		t.Fatalf("nested slice shared with copy")
	}
	if orig["n"] != int64(3) {
		t.Fatalf("scalar changed in original")
	}
	if spec.DeepCopy(nil) != nil {
		t.Fatalf("nil map should copy to nil")
	}
}

func TestDeepCopyIsolatesTypedContainers(t *testing.T) {
	orig := map[string]any{
		"names":  []string{"a", "b"},
		"counts": map[string]int{"x": 1},
		"nested": map[string][]int64{"k": {1, 2}},
		"mixed":  []any{[]float64{0.5}, nil},
		"none":   []string(nil),
	}
	cp := spec.DeepCopy(orig)

	cp["names"].([]string)[0] = "changed"
	cp["counts"].(map[string]int)["x"] = 2
	cp["nested"].(map[string][]int64)["k"][0] = 9
	cp["mixed"].([]any)[0].([]float64)[0] = 1.5

	if orig["names"].([]string)[0] != "a" {
		t.Fatalf("[]string shared with copy")
	}
	if orig["counts"].(map[string]int)["x"] != 1 {
		t.Fatalf("map[string]int shared with copy")
	}
	if orig["nested"].(map[string][]int64)["k"][0] != 1 {
		t.Fatalf("slice inside typed map shared with copy")
	}
	if orig["mixed"].([]any)[0].([]float64)[0] != 0.5 {
		t.Fatalf("typed slice inside []any shared with copy")
	}
	if cp["mixed"].([]any)[1] != nil || cp["none"].([]string) != nil {
		t.Fatalf("nil entries not preserved: %#v", cp)
	}
}

func TestReplace(t *testing.T) {
	dst := map[string]any{"a": 1, "stale": 2}
	spec.Replace(dst, map[string]any{"a": 3, "b": 4})
	if len(dst) != 2 || dst["a"] != 3 || dst["b"] != 4 {
		t.Fatalf("unexpected result: %v", dst)
	}
}

func TestExtraFileValidate(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"python_lib.zip", true},
		{"", false},
		{"../escape.py", false},
		{"dir/file.py", false},
		{"..", false},
	}
	for _, tc := range cases {
		err := spec.ExtraFile{Name: tc.name}.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("Validate(%q) err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}
